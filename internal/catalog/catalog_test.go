package catalog

import (
	"path/filepath"
	"testing"

	"github.com/pagesql/pagesql/internal/pager"
)

func newTestPool(t *testing.T) *pager.BufferPool {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "test.db"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return pager.NewBufferPool(p, 100, nil, nil)
}

func TestCatalog_EmptyRoundTrip(t *testing.T) {
	buf, err := Marshal(New())
	if err != nil {
		t.Fatal(err)
	}
	c, err := Unmarshal(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Tables) != 0 {
		t.Fatalf("expected empty catalog, got %d tables", len(c.Tables))
	}
}

func TestCatalog_AddTableAddIndexRoundTrip(t *testing.T) {
	c := New()
	err := c.AddTable(TableSchema{
		Name:       "users",
		RootPageID: 2,
		Columns: []ColumnSchema{
			{Name: "id", Type: TypeInt, IsPrimaryKey: true},
			{Name: "name", Type: TypeVarchar, VarcharLen: 32},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddIndex("users", IndexSchema{
		Name:       "idx_name",
		TableName:  "users",
		ColumnName: "name",
		RootPageID: 3,
		IsUnique:   false,
	}); err != nil {
		t.Fatal(err)
	}

	buf, err := Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatal(err)
	}
	ts, ok := got.FindTable("users")
	if !ok {
		t.Fatal("expected table users")
	}
	if ts.RootPageID != 2 || len(ts.Columns) != 2 {
		t.Fatalf("unexpected table: %+v", ts)
	}
	if _, ok := ts.FindColumn("name"); !ok {
		t.Fatal("expected column name")
	}
	idx, ok := ts.FindIndex("idx_name")
	if !ok || idx.RootPageID != 3 {
		t.Fatalf("unexpected index: %+v", idx)
	}
}

func TestCatalog_DuplicateTableRejected(t *testing.T) {
	c := New()
	c.AddTable(TableSchema{Name: "t"})
	if err := c.AddTable(TableSchema{Name: "t"}); err == nil {
		t.Fatal("expected duplicate table rejection")
	}
}

func TestCatalog_MaxTablesEnforced(t *testing.T) {
	c := New()
	for i := 0; i < MaxTables; i++ {
		name := string(rune('a' + i))
		if err := c.AddTable(TableSchema{Name: name}); err != nil {
			t.Fatalf("table %d: %v", i, err)
		}
	}
	if err := c.AddTable(TableSchema{Name: "overflow"}); err == nil {
		t.Fatal("expected MAX_TABLES rejection")
	}
}

func TestCatalog_DropIndexRemovesEntry(t *testing.T) {
	c := New()
	c.AddTable(TableSchema{Name: "t"})
	c.AddIndex("t", IndexSchema{Name: "idx1", TableName: "t", ColumnName: "c"})
	if err := c.DropIndex("t", "idx1"); err != nil {
		t.Fatal(err)
	}
	ts, _ := c.FindTable("t")
	if len(ts.Indexes) != 0 {
		t.Fatalf("expected index removed, got %d", len(ts.Indexes))
	}
	if err := c.DropIndex("t", "idx1"); err == nil {
		t.Fatal("expected error dropping already-removed index")
	}
}

func TestCatalog_LoadFreshPageIsEmpty(t *testing.T) {
	pool := newTestPool(t)
	c, err := Load(pool, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Tables) != 0 {
		t.Fatalf("expected empty catalog on fresh page 1, got %d tables", len(c.Tables))
	}
}

func TestCatalog_FlushThenLoadRoundTrips(t *testing.T) {
	pool := newTestPool(t)
	c := New()
	c.AddTable(TableSchema{
		Name:       "widgets",
		RootPageID: 5,
		Columns:    []ColumnSchema{{Name: "id", Type: TypeInt, IsPrimaryKey: true}},
	})
	if err := Flush(pool, c); err != nil {
		t.Fatal(err)
	}
	reloaded, err := Load(pool, nil)
	if err != nil {
		t.Fatal(err)
	}
	ts, ok := reloaded.FindTable("widgets")
	if !ok || ts.RootPageID != 5 {
		t.Fatalf("unexpected reload: %+v", reloaded.Tables)
	}
}
