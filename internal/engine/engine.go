// Package engine implements the transaction state machine, statement
// dispatcher, and index-maintenance logic: the top-level component that
// owns the Pager, Buffer Pool, WAL, and Catalog for the lifetime of a
// database handle.
package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/pagesql/pagesql/internal/btree"
	"github.com/pagesql/pagesql/internal/catalog"
	"github.com/pagesql/pagesql/internal/config"
	"github.com/pagesql/pagesql/internal/logger"
	"github.com/pagesql/pagesql/internal/metrics"
	"github.com/pagesql/pagesql/internal/pager"
	"github.com/pagesql/pagesql/internal/wal"
)

// Engine owns the Pager, BufferPool, WAL, and Catalog exclusively for the
// lifetime of the handle.
type Engine struct {
	mu sync.Mutex

	cfg config.Config

	pager *pager.Pager
	pool  *pager.BufferPool
	wal   *wal.WAL
	cat   *catalog.Catalog

	tables  map[string]*btree.Tree // table name -> base tree
	indexes map[string]*btree.Tree // index name -> index tree

	currentTxID pager.TxID
	locked      bool

	instanceID uuid.UUID
	metrics    *metrics.Metrics
	log        *logger.Logger

	checkpoint *cron.Cron
}

// Open opens (creating if missing) the database and WAL files named in
// cfg, reloads the catalog, recovers every table and index against the
// WAL's committed set, and — if cfg.CheckpointCron is set — starts the
// optional background checkpoint schedule described in SPEC_FULL.md §4.6.
func Open(cfg config.Config, m *metrics.Metrics, log *logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.Nop()
	}
	instanceID := uuid.New()
	elog := log.Component("engine")

	p, err := pager.Open(cfg.DBPath, m, log)
	if err != nil {
		return nil, &IOError{Msg: "engine: open data file", Err: err}
	}
	capacity := cfg.BufferPoolFrames
	if capacity <= 0 {
		capacity = config.Default().BufferPoolFrames
	}
	pool := pager.NewBufferPool(p, capacity, m, log)

	w, err := wal.Open(cfg.WALPath, m, log)
	if err != nil {
		p.Close()
		return nil, &IOError{Msg: "engine: open WAL", Err: err}
	}

	if p.NextPageID() == 0 {
		// Fresh database: page 0 is the unused initial root tree, page 1
		// is the empty catalog: reopening with an empty file creates page
		// 0 and page 1.
		if _, err := btree.CreateEmptyLeaf(p); err != nil {
			return nil, &IOError{Msg: "engine: init page 0", Err: err}
		}
		rootPage := p.AllocatePageID() // == 1
		if rootPage != catalog.PageID {
			return nil, stateErrorf("engine: expected catalog page id %d, allocator returned %d", catalog.PageID, rootPage)
		}
		if err := catalog.Flush(pool, catalog.New()); err != nil {
			return nil, &IOError{Msg: "engine: init catalog page", Err: err}
		}
	}

	cat, err := catalog.Load(pool, log)
	if err != nil {
		return nil, &IOError{Msg: "engine: load catalog", Err: err}
	}

	e := &Engine{
		cfg:        cfg,
		pager:      p,
		pool:       pool,
		wal:        w,
		cat:        cat,
		tables:     make(map[string]*btree.Tree),
		indexes:    make(map[string]*btree.Tree),
		instanceID: instanceID,
		metrics:    m,
		log:        elog,
	}
	e.rebuildTreeCache()

	// current_tx_id is monotonic per process-lifetime, but a fresh process
	// must not reissue a tx_id an earlier run already
	// committed under — that would make CommittedTxIDs() treat a brand
	// new, not-yet-committed transaction as already committed. Bootstrap
	// the counter from the highest tx_id already present in the WAL.
	if records, err := w.ReadAll(); err == nil {
		for _, r := range records {
			if r.TxID > e.currentTxID {
				e.currentTxID = r.TxID
			}
		}
	}

	if err := e.recoverAll(); err != nil {
		return nil, err
	}

	if cfg.CheckpointCron != "" {
		if err := e.startCheckpointSchedule(cfg.CheckpointCron); err != nil {
			e.log.Warn().Err(err).Str("cron", cfg.CheckpointCron).Msg("checkpoint schedule not started")
		}
	}

	e.log.Info().Str("instance_id", instanceID.String()).Str("db_path", cfg.DBPath).Msg("engine opened")
	return e, nil
}

// rebuildTreeCache constructs *btree.Tree handles for every table and
// index currently in the catalog. Called on Open and after DDL.
func (e *Engine) rebuildTreeCache() {
	e.tables = make(map[string]*btree.Tree)
	e.indexes = make(map[string]*btree.Tree)
	for _, ts := range e.cat.Tables {
		e.tables[ts.Name] = btree.New(e.pager, e.pool, ts.RootPageID, e.metrics, e.log)
		for _, idx := range ts.Indexes {
			e.indexes[idx.Name] = btree.New(e.pager, e.pool, idx.RootPageID, e.metrics, e.log)
		}
	}
}

// recoverAll performs the REDO pass for every table and index tree
// against the committed set of the shared WAL file.
func (e *Engine) recoverAll() error {
	for name, tree := range e.tables {
		if err := wal.Recover(e.wal, tree); err != nil {
			return &IOError{Msg: fmt.Sprintf("engine: recover table %q", name), Err: err}
		}
	}
	for name, tree := range e.indexes {
		if err := wal.Recover(e.wal, tree); err != nil {
			return &IOError{Msg: fmt.Sprintf("engine: recover index %q", name), Err: err}
		}
	}
	return nil
}

// startCheckpointSchedule runs a periodic buffer_pool.FlushAll on the given
// cron expression. This never changes observable statement semantics —
// COMMIT already flushes — it only bounds how much dirty data an
// unexpected process exit between commits could lose, by writing through
// sooner. The checkpoint goroutine still respects the locked flag: it
// skips a tick rather than flushing mid-transaction.
func (e *Engine) startCheckpointSchedule(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.locked {
			return
		}
		if err := e.pool.FlushAll(); err != nil {
			e.log.Warn().Err(err).Msg("background checkpoint flush failed")
			return
		}
		if err := e.wal.Sync(); err != nil {
			e.log.Warn().Err(err).Msg("background checkpoint WAL sync failed")
			return
		}
		e.log.Debug().Msg("background checkpoint flush complete")
	})
	if err != nil {
		return err
	}
	c.Start()
	e.checkpoint = c
	return nil
}

// Close stops the checkpoint schedule (if any) and closes the WAL and
// pager. Dirty frames are flushed first.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checkpoint != nil {
		<-e.checkpoint.Stop().Done()
	}
	if err := e.pool.FlushAll(); err != nil {
		return &IOError{Msg: "engine: flush on close", Err: err}
	}
	if err := e.wal.Close(); err != nil {
		return &IOError{Msg: "engine: close WAL", Err: err}
	}
	if err := e.pager.Close(); err != nil {
		return &IOError{Msg: "engine: close data file", Err: err}
	}
	return nil
}

// InstanceID returns this engine handle's process-lifetime identity, used
// to correlate log lines across components.
func (e *Engine) InstanceID() uuid.UUID { return e.instanceID }

// Tables returns every table's schema from the catalog, sorted by name —
// the introspection surface named in SPEC_FULL.md §10, grounded in the
// original C database.c's catalog-dump helper. It bypasses the textual
// request layer entirely, for tests and for the REPL's `.tables`
// metacommand.
func (e *Engine) Tables() []catalog.TableSchema {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]catalog.TableSchema, len(e.cat.Tables))
	copy(out, e.cat.Tables)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute dispatches one pre-classified statement and returns its result
// set (SELECT only) or nil.
func (e *Engine) Execute(stmt Statement) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	res, err := e.dispatch(stmt)
	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordEngineOp(stmt.Kind.String(), status, time.Since(start).Seconds())
	}
	if err != nil {
		e.log.Debug().Str("kind", stmt.Kind.String()).Err(err).Msg("statement rejected")
	}
	return res, err
}

func (e *Engine) dispatch(stmt Statement) (*Result, error) {
	switch stmt.Kind {
	case StmtBegin:
		return nil, e.begin()
	case StmtCommit:
		return nil, e.commit()
	case StmtRollback:
		return nil, e.rollback()
	case StmtCreateTable:
		return nil, e.createTable(stmt)
	case StmtCreateIndex:
		return nil, e.createIndex(stmt)
	case StmtDropIndex:
		return nil, e.dropIndex(stmt)
	case StmtInsert:
		return nil, e.insert(stmt)
	case StmtUpdate:
		return nil, e.update(stmt)
	case StmtDelete:
		return nil, e.delete(stmt)
	case StmtSelect:
		return e.selectRows(stmt)
	default:
		// Unrecognized input returns no result and no error.
		return nil, nil
	}
}

// ─── transaction control ──────────────────────────────────────────────────

func (e *Engine) begin() error {
	if e.locked {
		return usageErrorf("engine: BEGIN while a transaction is already active")
	}
	e.locked = true
	e.currentTxID++
	if _, err := e.wal.AppendBegin(e.currentTxID); err != nil {
		return &IOError{Msg: "engine: log BEGIN", Err: err}
	}
	return nil
}

func (e *Engine) commit() error {
	if !e.locked {
		return usageErrorf("engine: COMMIT with no active transaction")
	}
	if _, err := e.wal.AppendCommit(e.currentTxID); err != nil {
		return &IOError{Msg: "engine: log COMMIT", Err: err}
	}
	if err := e.pool.FlushAll(); err != nil {
		return &IOError{Msg: "engine: flush_all on COMMIT", Err: err}
	}
	e.locked = false
	return nil
}

// rollback reopens the pager, reinitializes the buffer pool, reloads the
// catalog, then replays every previously committed transaction except the
// one being rolled back.
func (e *Engine) rollback() error {
	if !e.locked {
		return usageErrorf("engine: ROLLBACK with no active transaction")
	}
	abortedTx := e.currentTxID

	if err := e.pager.Close(); err != nil {
		return &IOError{Msg: "engine: close data file during ROLLBACK", Err: err}
	}
	p, err := pager.Open(e.cfg.DBPath, e.metrics, e.log)
	if err != nil {
		return &IOError{Msg: "engine: reopen data file during ROLLBACK", Err: err}
	}
	e.pager = p
	e.pool = pager.NewBufferPool(p, e.bufferPoolCapacity(), e.metrics, e.log)

	cat, err := catalog.Load(e.pool, e.log)
	if err != nil {
		return &IOError{Msg: "engine: reload catalog during ROLLBACK", Err: err}
	}
	e.cat = cat
	e.rebuildTreeCache()

	for name, tree := range e.tables {
		if err := wal.ApplyCommittedExcept(e.wal, tree, abortedTx); err != nil {
			return &IOError{Msg: fmt.Sprintf("engine: replay table %q during ROLLBACK", name), Err: err}
		}
	}
	e.locked = false
	return nil
}

func (e *Engine) bufferPoolCapacity() int {
	if e.cfg.BufferPoolFrames > 0 {
		return e.cfg.BufferPoolFrames
	}
	return config.Default().BufferPoolFrames
}

// ─── DDL ───────────────────────────────────────────────────────────────────

func (e *Engine) createTable(stmt Statement) error {
	if e.locked {
		return usageErrorf("engine: DDL rejected while a transaction is active")
	}
	if _, exists := e.cat.FindTable(stmt.Table); exists {
		return usageErrorf("engine: table %q already exists", stmt.Table)
	}
	root, err := btree.CreateEmptyLeaf(e.pager)
	if err != nil {
		return &IOError{Msg: "engine: allocate table root", Err: err}
	}
	ts := catalog.TableSchema{Name: stmt.Table, RootPageID: root, Columns: stmt.Columns}
	if err := e.cat.AddTable(ts); err != nil {
		return usageErrorf("%s", err.Error())
	}
	if err := catalog.Flush(e.pool, e.cat); err != nil {
		return &IOError{Msg: "engine: flush catalog after CREATE TABLE", Err: err}
	}
	e.tables[stmt.Table] = btree.New(e.pager, e.pool, root, e.metrics, e.log)
	e.log.Info().Str("table", stmt.Table).Uint32("root", uint32(root)).Msg("table created")
	return nil
}

func (e *Engine) createIndex(stmt Statement) error {
	if e.locked {
		return usageErrorf("engine: DDL rejected while a transaction is active")
	}
	ts, ok := e.cat.FindTable(stmt.Table)
	if !ok {
		return usageErrorf("engine: table %q does not exist", stmt.Table)
	}
	if _, ok := ts.FindColumn(stmt.IndexColumn); !ok {
		return usageErrorf("engine: column %q does not exist on table %q", stmt.IndexColumn, stmt.Table)
	}
	baseTree, ok := e.tables[stmt.Table]
	if !ok {
		return stateErrorf("engine: table %q has no cached tree handle", stmt.Table)
	}

	root, err := btree.CreateEmptyLeaf(e.pager)
	if err != nil {
		return &IOError{Msg: "engine: allocate index root", Err: err}
	}
	idxTree := btree.New(e.pager, e.pool, root, e.metrics, e.log)

	colIdx := columnPosition(ts, stmt.IndexColumn)
	var backfillErr error
	scanErr := baseTree.Scan(func(pk int32, value []byte) bool {
		cols := decodeRow(value)
		if colIdx >= len(cols) {
			return true
		}
		iv, err := strconv.Atoi(string(cols[colIdx]))
		if err != nil {
			return true // only INT-typed columns are indexed
		}
		if err := idxTree.Insert(int32(iv), []byte(strconv.FormatInt(int64(pk), 10))); err != nil && err != btree.ErrOverflow {
			backfillErr = err
			return false
		}
		return true
	})
	if scanErr != nil {
		return &IOError{Msg: "engine: backfill scan", Err: scanErr}
	}
	if backfillErr != nil {
		return &IOError{Msg: "engine: backfill insert", Err: backfillErr}
	}

	if err := e.cat.AddIndex(stmt.Table, catalog.IndexSchema{
		Name:       stmt.IndexName,
		TableName:  stmt.Table,
		ColumnName: stmt.IndexColumn,
		RootPageID: root,
		IsUnique:   stmt.IndexUnique,
	}); err != nil {
		return usageErrorf("%s", err.Error())
	}
	if err := catalog.Flush(e.pool, e.cat); err != nil {
		return &IOError{Msg: "engine: flush catalog after CREATE INDEX", Err: err}
	}
	e.indexes[stmt.IndexName] = idxTree
	e.log.Info().Str("index", stmt.IndexName).Str("table", stmt.Table).Str("column", stmt.IndexColumn).Msg("index created")
	return nil
}

func (e *Engine) dropIndex(stmt Statement) error {
	if e.locked {
		return usageErrorf("engine: DDL rejected while a transaction is active")
	}
	if err := e.cat.DropIndex(stmt.Table, stmt.IndexName); err != nil {
		return usageErrorf("%s", err.Error())
	}
	if err := catalog.Flush(e.pool, e.cat); err != nil {
		return &IOError{Msg: "engine: flush catalog after DROP INDEX", Err: err}
	}
	delete(e.indexes, stmt.IndexName) // index pages are leaked, no free-list
	return nil
}

// columnPosition returns the 0-based position of name among ts.Columns, or
// -1 if absent. Row values are positional, so this doubles as the index
// into a decoded row's columns.
func columnPosition(ts *catalog.TableSchema, name string) int {
	for i, c := range ts.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ─── DML ────────────────────────────────────────────────────────────────────

func trimValue(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		v = v[1 : len(v)-1]
	}
	return v
}

func encodeRow(values []string) []byte {
	return []byte(strings.Join(values, "|"))
}

func decodeRow(value []byte) [][]byte {
	parts := strings.Split(string(value), "|")
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func (e *Engine) insert(stmt Statement) error {
	if !e.locked {
		return usageErrorf("engine: DML rejected with no active transaction")
	}
	ts, ok := e.cat.FindTable(stmt.Table)
	if !ok {
		return usageErrorf("engine: table %q does not exist", stmt.Table)
	}
	tree, ok := e.tables[stmt.Table]
	if !ok {
		return stateErrorf("engine: table %q has no cached tree handle", stmt.Table)
	}
	if len(stmt.Values) == 0 {
		return usageErrorf("engine: INSERT requires at least one value")
	}
	trimmed := make([]string, len(stmt.Values))
	for i, v := range stmt.Values {
		trimmed[i] = trimValue(v)
	}
	pk, err := strconv.Atoi(trimmed[0])
	if err != nil {
		return usageErrorf("engine: primary key %q is not an integer", trimmed[0])
	}
	row := encodeRow(trimmed)
	if len(row) > btree.MaxValueSize {
		return usageErrorf("engine: row %d bytes exceeds maximum row size of %d bytes", len(row), btree.MaxValueSize)
	}

	if _, err := e.wal.AppendInsert(e.currentTxID, int32(pk), row); err != nil {
		return &IOError{Msg: "engine: log INSERT", Err: err}
	}
	if err := tree.Insert(int32(pk), row); err != nil {
		if err == btree.ErrOverflow {
			return err // capacity error: the insert is dropped and ErrOverflow is returned
		}
		if err == btree.ErrRowTooLarge {
			return usageErrorf("engine: %v", err)
		}
		return &IOError{Msg: "engine: btree insert", Err: err}
	}
	return e.maintainIndexesInsert(ts, int32(pk), row)
}

func (e *Engine) update(stmt Statement) error {
	if !e.locked {
		return usageErrorf("engine: DML rejected with no active transaction")
	}
	ts, ok := e.cat.FindTable(stmt.Table)
	if !ok {
		return usageErrorf("engine: table %q does not exist", stmt.Table)
	}
	tree, ok := e.tables[stmt.Table]
	if !ok {
		return stateErrorf("engine: table %q has no cached tree handle", stmt.Table)
	}
	if stmt.Where == nil || stmt.Where.Column != "id" || stmt.Where.Op != "=" {
		return usageErrorf("engine: UPDATE requires a WHERE id = <int> predicate")
	}
	pk, err := strconv.Atoi(trimValue(stmt.Where.Value))
	if err != nil {
		return usageErrorf("engine: UPDATE predicate key %q is not an integer", stmt.Where.Value)
	}
	old, found, err := tree.Search(int32(pk))
	if err != nil {
		return &IOError{Msg: "engine: btree search", Err: err}
	}
	if !found {
		return usageErrorf("engine: no row with id = %d in table %q", pk, stmt.Table)
	}
	colIdx := columnPosition(ts, stmt.SetColumn)
	if colIdx < 0 {
		return usageErrorf("engine: column %q does not exist on table %q", stmt.SetColumn, stmt.Table)
	}
	cols := decodeRow(old)
	newVal := trimValue(stmt.SetValue)
	cols[colIdx] = []byte(newVal)
	strCols := make([]string, len(cols))
	for i, c := range cols {
		strCols[i] = string(c)
	}
	newRow := encodeRow(strCols)
	if len(newRow) > btree.MaxValueSize {
		return usageErrorf("engine: row %d bytes exceeds maximum row size of %d bytes", len(newRow), btree.MaxValueSize)
	}

	if err := e.maintainIndexesDelete(ts, int32(pk), old); err != nil {
		return err
	}
	if _, err := e.wal.AppendUpdate(e.currentTxID, int32(pk), newRow); err != nil {
		return &IOError{Msg: "engine: log UPDATE", Err: err}
	}
	if err := tree.Insert(int32(pk), newRow); err != nil {
		if err == btree.ErrRowTooLarge {
			return usageErrorf("engine: %v", err)
		}
		if err != btree.ErrOverflow {
			return &IOError{Msg: "engine: btree update", Err: err}
		}
	}
	return e.maintainIndexesInsert(ts, int32(pk), newRow)
}

func (e *Engine) delete(stmt Statement) error {
	if !e.locked {
		return usageErrorf("engine: DML rejected with no active transaction")
	}
	ts, ok := e.cat.FindTable(stmt.Table)
	if !ok {
		return usageErrorf("engine: table %q does not exist", stmt.Table)
	}
	tree, ok := e.tables[stmt.Table]
	if !ok {
		return stateErrorf("engine: table %q has no cached tree handle", stmt.Table)
	}
	if stmt.Where == nil || stmt.Where.Column != "id" || stmt.Where.Op != "=" {
		return usageErrorf("engine: DELETE requires a WHERE id = <int> predicate")
	}
	pk, err := strconv.Atoi(trimValue(stmt.Where.Value))
	if err != nil {
		return usageErrorf("engine: DELETE predicate key %q is not an integer", stmt.Where.Value)
	}
	old, found, err := tree.Search(int32(pk))
	if err != nil {
		return &IOError{Msg: "engine: btree search", Err: err}
	}
	if !found {
		return nil // deleting a non-existent key is a no-op
	}
	if err := e.maintainIndexesDelete(ts, int32(pk), old); err != nil {
		return err
	}
	if _, err := e.wal.AppendDelete(e.currentTxID, int32(pk)); err != nil {
		return &IOError{Msg: "engine: log DELETE", Err: err}
	}
	return tree.Delete(int32(pk))
}

// maintainIndexesInsert inserts (indexed_value, decimal_ascii(pk)) into
// every index on ts, for indexes whose column parses the row's current
// value as an integer. WAL-logged first, per the WAL-first rule every
// mutation follows.
func (e *Engine) maintainIndexesInsert(ts *catalog.TableSchema, pk int32, row []byte) error {
	cols := decodeRow(row)
	for _, idx := range ts.Indexes {
		colIdx := columnPosition(ts, idx.ColumnName)
		if colIdx < 0 || colIdx >= len(cols) {
			continue
		}
		iv, err := strconv.Atoi(string(cols[colIdx]))
		if err != nil {
			continue
		}
		tree, ok := e.indexes[idx.Name]
		if !ok {
			continue
		}
		pkAscii := []byte(strconv.FormatInt(int64(pk), 10))
		if _, err := e.wal.AppendInsert(e.currentTxID, int32(iv), pkAscii); err != nil {
			return &IOError{Msg: "engine: log index maintenance insert", Err: err}
		}
		if err := tree.Insert(int32(iv), pkAscii); err != nil && err != btree.ErrOverflow {
			return &IOError{Msg: "engine: index maintenance insert", Err: err}
		}
	}
	return nil
}

// maintainIndexesDelete removes the stale index entries derived from row's
// current values, over-approximating by touching every index on ts
// regardless of which column actually changed.
func (e *Engine) maintainIndexesDelete(ts *catalog.TableSchema, pk int32, row []byte) error {
	cols := decodeRow(row)
	for _, idx := range ts.Indexes {
		colIdx := columnPosition(ts, idx.ColumnName)
		if colIdx < 0 || colIdx >= len(cols) {
			continue
		}
		iv, err := strconv.Atoi(string(cols[colIdx]))
		if err != nil {
			continue
		}
		tree, ok := e.indexes[idx.Name]
		if !ok {
			continue
		}
		if _, err := e.wal.AppendDelete(e.currentTxID, int32(iv)); err != nil {
			return &IOError{Msg: "engine: log index maintenance delete", Err: err}
		}
		if err := tree.Delete(int32(iv)); err != nil {
			return &IOError{Msg: "engine: index maintenance delete", Err: err}
		}
	}
	return nil
}

// ─── query ──────────────────────────────────────────────────────────────

func (e *Engine) selectRows(stmt Statement) (*Result, error) {
	ts, ok := e.cat.FindTable(stmt.Table)
	if !ok {
		return nil, usageErrorf("engine: table %q does not exist", stmt.Table)
	}
	tree, ok := e.tables[stmt.Table]
	if !ok {
		return nil, stateErrorf("engine: table %q has no cached tree handle", stmt.Table)
	}

	// Defeat any staleness in resident pages before every SELECT, per
	// a blunt cache-coherence hammer, but a correct one.
	if err := e.pool.InvalidateAll(); err != nil {
		return nil, &IOError{Msg: "engine: invalidate buffer pool before SELECT", Err: err}
	}

	if stmt.Where != nil && stmt.Where.Op == "=" {
		if idx, ok := ts.FindIndexOnColumn(stmt.Where.Column); ok {
			return e.selectByIndex(tree, idx, stmt.Where.Value)
		}
	}

	var positional *Predicate
	if stmt.Where != nil {
		colIdx := columnPosition(ts, stmt.Where.Column)
		if colIdx < 0 {
			return nil, usageErrorf("engine: column %q does not exist on table %q", stmt.Where.Column, stmt.Table)
		}
		positional = &Predicate{Column: strconv.Itoa(colIdx), Op: stmt.Where.Op, Value: stmt.Where.Value}
	}
	return e.selectByScan(tree, positional)
}

func (e *Engine) selectByIndex(tree *btree.Tree, idx catalog.IndexSchema, value string) (*Result, error) {
	iv, err := strconv.Atoi(trimValue(value))
	if err != nil {
		// A non-integer comparison value against an INT-indexed column
		// cannot match; fall through to an empty result rather than error.
		return &Result{}, nil
	}
	idxTree, ok := e.indexes[idx.Name]
	if !ok {
		return nil, stateErrorf("engine: index %q has no cached tree handle", idx.Name)
	}
	pkAscii, found, err := idxTree.Search(int32(iv))
	if err != nil {
		return nil, &IOError{Msg: "engine: index search", Err: err}
	}
	if !found {
		return &Result{}, nil
	}
	pk, err := strconv.Atoi(string(pkAscii))
	if err != nil {
		return nil, stateErrorf("engine: index %q stored a non-numeric primary key", idx.Name)
	}
	row, found, err := tree.Search(int32(pk))
	if err != nil {
		return nil, &IOError{Msg: "engine: btree search", Err: err}
	}
	if !found {
		return &Result{}, nil
	}
	return &Result{Rows: []Row{decodeRow(row)}}, nil
}

func (e *Engine) selectByScan(tree *btree.Tree, where *Predicate) (*Result, error) {
	res := &Result{}
	var scanErr error
	err := tree.Scan(func(key int32, value []byte) bool {
		cols := decodeRow(value)
		if where != nil {
			match, err := evalPredicate(cols, where)
			if err != nil {
				scanErr = err
				return false
			}
			if !match {
				return true
			}
		}
		res.Rows = append(res.Rows, cols)
		return true
	})
	if err != nil {
		return nil, &IOError{Msg: "engine: full scan", Err: err}
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return res, nil
}

// evalPredicate evaluates `col op value` against a decoded row's columns.
// where.Column must already be resolved to a column position (selectRows
// does this once against the schema before scanning, rather than
// re-resolving per row). Numeric comparison is attempted via float64 parse
// on both sides; `=` and `!=` fall back to byte comparison for non-numeric
// strings.
func evalPredicate(cols [][]byte, where *Predicate) (bool, error) {
	idx, err := strconv.Atoi(where.Column)
	if err != nil || idx < 0 || idx >= len(cols) {
		return false, nil
	}
	return compareValues(string(cols[idx]), where.Op, where.Value)
}

func compareValues(lhs, op, rhs string) (bool, error) {
	lf, lerr := strconv.ParseFloat(lhs, 64)
	rf, rerr := strconv.ParseFloat(rhs, 64)
	if lerr == nil && rerr == nil {
		switch op {
		case "=":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
		return false, usageErrorf("engine: unsupported operator %q", op)
	}
	switch op {
	case "=":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	default:
		return false, usageErrorf("engine: operator %q requires numeric operands", op)
	}
}
