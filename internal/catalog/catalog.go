// Package catalog implements the durable table/index metadata record: a
// single fixed-page-budget record living on page 1, carrying every table's
// column schema and every secondary index's definition.
//
// A fixed-width MAX_NAME_LEN=64 slot for every name field, taken literally
// with MAX_TABLES=16 and MAX_COLUMNS_PER_TABLE=16, does not fit in one
// 4096-byte page (16 tables * (16 columns + 8 indexes) of 64-byte names
// alone exceeds 40 KiB). This package keeps the same limits as caps
// enforced at DDL time but marshals names length-prefixed rather than
// padded to MAX_NAME_LEN, so the catalog for any workload that respects
// the limits comfortably fits on page 1; see DESIGN.md.
package catalog

import (
	"encoding/binary"
	"fmt"

	"github.com/pagesql/pagesql/internal/logger"
	"github.com/pagesql/pagesql/internal/pager"
)

const (
	PageID             = pager.PageID(1)
	MaxTables          = 16
	MaxColumnsPerTable = 16
	MaxIndexesPerTable = 8
	MaxNameLen         = 64
)

// ColumnType enumerates the supported SQL-ish column types.
type ColumnType uint8

const (
	TypeInt ColumnType = iota
	TypeVarchar
	TypeFloat
	TypeDouble
	TypeText
	TypeDate
	TypeTimestamp
	TypeBoolean
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeVarchar:
		return "VARCHAR"
	case TypeFloat:
		return "FLOAT"
	case TypeDouble:
		return "DOUBLE"
	case TypeText:
		return "TEXT"
	case TypeDate:
		return "DATE"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeBoolean:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	Name         string
	Type         ColumnType
	VarcharLen   uint16 // only meaningful when Type == TypeVarchar
	IsPrimaryKey bool
}

// IndexSchema describes one secondary index.
type IndexSchema struct {
	Name       string
	TableName  string
	ColumnName string
	RootPageID pager.PageID
	IsUnique   bool
	IsPrimary  bool
}

// TableSchema describes one table.
type TableSchema struct {
	Name       string
	RootPageID pager.PageID
	Columns    []ColumnSchema
	Indexes    []IndexSchema
}

// FindColumn returns the column named name, if present.
func (ts *TableSchema) FindColumn(name string) (*ColumnSchema, bool) {
	for i := range ts.Columns {
		if ts.Columns[i].Name == name {
			return &ts.Columns[i], true
		}
	}
	return nil, false
}

// FindIndex returns the index named name, if present.
func (ts *TableSchema) FindIndex(name string) (*IndexSchema, bool) {
	for i := range ts.Indexes {
		if ts.Indexes[i].Name == name {
			return &ts.Indexes[i], true
		}
	}
	return nil, false
}

// FindIndexOnColumn returns the first index defined on the given column,
// used by SELECT's index-lookup-vs-scan dispatch.
func (ts *TableSchema) FindIndexOnColumn(column string) (IndexSchema, bool) {
	for _, idx := range ts.Indexes {
		if idx.ColumnName == column {
			return idx, true
		}
	}
	return IndexSchema{}, false
}

// IndexesOnColumn returns every index defined on the given column.
func (ts *TableSchema) IndexesOnColumn(column string) []IndexSchema {
	var out []IndexSchema
	for _, idx := range ts.Indexes {
		if idx.ColumnName == column {
			out = append(out, idx)
		}
	}
	return out
}

// Catalog is the in-memory form of page 1's content.
type Catalog struct {
	Tables []TableSchema
}

// New returns an empty catalog, as if reopening a freshly created page 1.
func New() *Catalog {
	return &Catalog{}
}

// FindTable returns the table named name, if present.
func (c *Catalog) FindTable(name string) (*TableSchema, bool) {
	for i := range c.Tables {
		if c.Tables[i].Name == name {
			return &c.Tables[i], true
		}
	}
	return nil, false
}

// AddTable appends a new table schema, enforcing MaxTables and duplicate
// name rejection. Callers must Flush afterwards to persist.
func (c *Catalog) AddTable(ts TableSchema) error {
	if _, exists := c.FindTable(ts.Name); exists {
		return fmt.Errorf("catalog: table %q already exists", ts.Name)
	}
	if len(c.Tables) >= MaxTables {
		return fmt.Errorf("catalog: MAX_TABLES (%d) exceeded", MaxTables)
	}
	if len(ts.Columns) > MaxColumnsPerTable {
		return fmt.Errorf("catalog: MAX_COLUMNS_PER_TABLE (%d) exceeded", MaxColumnsPerTable)
	}
	c.Tables = append(c.Tables, ts)
	return nil
}

// AddIndex appends a new index to table, enforcing MaxIndexesPerTable and
// duplicate name rejection.
func (c *Catalog) AddIndex(tableName string, idx IndexSchema) error {
	ts, ok := c.FindTable(tableName)
	if !ok {
		return fmt.Errorf("catalog: table %q does not exist", tableName)
	}
	if _, exists := ts.FindIndex(idx.Name); exists {
		return fmt.Errorf("catalog: index %q already exists", idx.Name)
	}
	if len(ts.Indexes) >= MaxIndexesPerTable {
		return fmt.Errorf("catalog: MAX_INDEXES_PER_TABLE (%d) exceeded", MaxIndexesPerTable)
	}
	ts.Indexes = append(ts.Indexes, idx)
	return nil
}

// DropIndex removes an index by name from table, shifting the remaining
// entries down. The index's own pages are not freed.
func (c *Catalog) DropIndex(tableName, indexName string) error {
	ts, ok := c.FindTable(tableName)
	if !ok {
		return fmt.Errorf("catalog: table %q does not exist", tableName)
	}
	for i, idx := range ts.Indexes {
		if idx.Name == indexName {
			ts.Indexes = append(ts.Indexes[:i], ts.Indexes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("catalog: index %q not found on table %q", indexName, tableName)
}

// ─── marshaling ──────────────────────────────────────────────────────────

func putString(buf []byte, off int, s string) int {
	if len(s) > MaxNameLen {
		s = s[:MaxNameLen]
	}
	buf[off] = byte(len(s))
	copy(buf[off+1:], s)
	return off + 1 + len(s)
}

func getString(buf []byte, off int) (string, int) {
	n := int(buf[off])
	return string(buf[off+1 : off+1+n]), off + 1 + n
}

// Marshal serializes the catalog into a fresh PageSize-byte page-1 buffer.
// Returns an error if the serialized form would not fit the page.
func Marshal(c *Catalog) ([]byte, error) {
	buf := pager.NewPage(pager.PageTypeMetadata, PageID)
	off := pager.PageHeaderSize

	put16 := func(v uint16) {
		binary.LittleEndian.PutUint16(buf[off:], v)
		off += 2
	}
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	putBool := func(v bool) {
		if v {
			buf[off] = 1
		} else {
			buf[off] = 0
		}
		off++
	}

	if len(c.Tables) > MaxTables {
		return nil, fmt.Errorf("catalog: MAX_TABLES (%d) exceeded", MaxTables)
	}
	buf[off] = byte(len(c.Tables))
	off++

	for _, ts := range c.Tables {
		off = putString(buf, off, ts.Name)
		put32(uint32(ts.RootPageID))
		if len(ts.Columns) > MaxColumnsPerTable {
			return nil, fmt.Errorf("catalog: MAX_COLUMNS_PER_TABLE (%d) exceeded", MaxColumnsPerTable)
		}
		buf[off] = byte(len(ts.Columns))
		off++
		for _, col := range ts.Columns {
			off = putString(buf, off, col.Name)
			buf[off] = byte(col.Type)
			off++
			put16(col.VarcharLen)
			putBool(col.IsPrimaryKey)
		}
		if len(ts.Indexes) > MaxIndexesPerTable {
			return nil, fmt.Errorf("catalog: MAX_INDEXES_PER_TABLE (%d) exceeded", MaxIndexesPerTable)
		}
		buf[off] = byte(len(ts.Indexes))
		off++
		for _, idx := range ts.Indexes {
			off = putString(buf, off, idx.Name)
			off = putString(buf, off, idx.TableName)
			off = putString(buf, off, idx.ColumnName)
			put32(uint32(idx.RootPageID))
			putBool(idx.IsUnique)
			putBool(idx.IsPrimary)
		}
		if off > pager.PageSize {
			return nil, fmt.Errorf("catalog: serialized catalog exceeds page capacity")
		}
	}
	if off > pager.PageSize {
		return nil, fmt.Errorf("catalog: serialized catalog exceeds page capacity")
	}
	pager.SetPageCRC(buf)
	return buf, nil
}

// Unmarshal decodes a page-1 buffer back into a Catalog. A buffer whose
// header is still all-zero (never initialized) decodes to an empty
// catalog: reopening with an empty file leaves page 1 as an empty catalog.
func Unmarshal(buf []byte) (*Catalog, error) {
	if len(buf) != pager.PageSize {
		return nil, fmt.Errorf("catalog: expected a PageSize buffer")
	}
	c := &Catalog{}
	off := pager.PageHeaderSize
	if off >= len(buf) {
		return c, nil
	}
	numTables := int(buf[off])
	off++
	if numTables == 0 {
		return c, nil
	}
	get16 := func() uint16 {
		v := binary.LittleEndian.Uint16(buf[off:])
		off += 2
		return v
	}
	get32 := func() uint32 {
		v := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		return v
	}
	getBool := func() bool {
		v := buf[off] != 0
		off++
		return v
	}

	for i := 0; i < numTables; i++ {
		var ts TableSchema
		ts.Name, off = getString(buf, off)
		ts.RootPageID = pager.PageID(get32())
		numCols := int(buf[off])
		off++
		for j := 0; j < numCols; j++ {
			var col ColumnSchema
			col.Name, off = getString(buf, off)
			col.Type = ColumnType(buf[off])
			off++
			col.VarcharLen = get16()
			col.IsPrimaryKey = getBool()
			ts.Columns = append(ts.Columns, col)
		}
		numIdx := int(buf[off])
		off++
		for j := 0; j < numIdx; j++ {
			var idx IndexSchema
			idx.Name, off = getString(buf, off)
			idx.TableName, off = getString(buf, off)
			idx.ColumnName, off = getString(buf, off)
			idx.RootPageID = pager.PageID(get32())
			idx.IsUnique = getBool()
			idx.IsPrimary = getBool()
			ts.Indexes = append(ts.Indexes, idx)
		}
		c.Tables = append(c.Tables, ts)
	}
	return c, nil
}

// Load reads page 1 through the buffer pool and decodes it. If page 1 has
// never been allocated (a brand new database file), there is nothing to
// read yet and an empty catalog is returned without touching disk — this
// is the only legitimate "not yet initialized" case. Once a page has been
// allocated it has also always been written (every allocator in this
// codebase writes immediately after allocating), so any page Load does
// read is held to the ordinary CRC check the buffer pool performs on
// every read; a mismatch there is genuine corruption and fatal.
func Load(pool *pager.BufferPool, log *logger.Logger) (*Catalog, error) {
	if pool.NextPageID() <= PageID {
		return New(), nil
	}
	f, err := pool.Get(PageID)
	if err != nil {
		return nil, err
	}
	defer pool.Unpin(PageID, false)
	return Unmarshal(f.Buf)
}

// Flush serializes c and installs it as page 1's resident frame, marking
// it dirty, then writes it straight through to disk. Marshal always
// produces the complete page content, so Flush installs it via
// BufferPool.Put rather than Get: Get would read the existing page first,
// which fails outright the very first time a database is initialized,
// since page 1 has been allocated but nothing has been written there yet.
func Flush(pool *pager.BufferPool, c *Catalog) error {
	buf, err := Marshal(c)
	if err != nil {
		return err
	}
	if err := pool.Put(PageID, buf); err != nil {
		return err
	}
	return pool.Flush(PageID)
}
