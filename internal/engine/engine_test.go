package engine

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/pagesql/pagesql/internal/catalog"
	"github.com/pagesql/pagesql/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		DBPath:           filepath.Join(dir, "db.page"),
		WALPath:          filepath.Join(dir, "wal.log"),
		BufferPoolFrames: 100,
		LogLevel:         "info",
	}
}

func openTestEngine(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	e, err := Open(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func usersSchema() []catalog.ColumnSchema {
	return []catalog.ColumnSchema{
		{Name: "id", Type: catalog.TypeInt, IsPrimaryKey: true},
		{Name: "name", Type: catalog.TypeVarchar, VarcharLen: 255},
	}
}

func mustExec(t *testing.T, e *Engine, stmt Statement) *Result {
	t.Helper()
	res, err := e.Execute(stmt)
	if err != nil {
		t.Fatalf("%s: %v", stmt.Kind, err)
	}
	return res
}

func rowText(r Row) []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = string(c)
	}
	return out
}

// Scenario 1: Basic CRUD.
func TestEngine_BasicCRUD(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "users", Columns: usersSchema()})
	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"1", "Alice"}})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"2", "Bob"}})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"3", "Charlie"}})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"4", "David"}})
	mustExec(t, e, Statement{Kind: StmtCommit})

	res := mustExec(t, e, Statement{Kind: StmtSelect, Table: "users", Where: &Predicate{Column: "id", Op: "=", Value: "1"}})
	if res.NumRows() != 1 || rowText(res.Rows[0])[1] != "Alice" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res = mustExec(t, e, Statement{Kind: StmtSelect, Table: "users"})
	if res.NumRows() != 4 {
		t.Fatalf("expected 4 rows, got %d", res.NumRows())
	}

	cases := []struct {
		op, val string
		want    []string
	}{
		{"<", "3", []string{"Alice", "Bob"}},
		{">", "2", []string{"Charlie", "David"}},
		{"<=", "2", []string{"Alice", "Bob"}},
		{">=", "3", []string{"Charlie", "David"}},
	}
	for _, c := range cases {
		res = mustExec(t, e, Statement{Kind: StmtSelect, Table: "users", Where: &Predicate{Column: "id", Op: c.op, Value: c.val}})
		if res.NumRows() != len(c.want) {
			t.Fatalf("id %s %s: expected %d rows, got %d", c.op, c.val, len(c.want), res.NumRows())
		}
		for i, r := range res.Rows {
			if rowText(r)[1] != c.want[i] {
				t.Fatalf("id %s %s: row %d = %v, want %s", c.op, c.val, i, rowText(r), c.want[i])
			}
		}
	}
}

// Scenario 2: Update semantics.
func TestEngine_UpdateSemantics(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "users", Columns: usersSchema()})
	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"1", "Alice"}})
	mustExec(t, e, Statement{Kind: StmtCommit})

	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtUpdate, Table: "users", SetColumn: "name", SetValue: "Alicia", Where: &Predicate{Column: "id", Op: "=", Value: "1"}})
	mustExec(t, e, Statement{Kind: StmtCommit})

	res := mustExec(t, e, Statement{Kind: StmtSelect, Table: "users", Where: &Predicate{Column: "id", Op: "=", Value: "1"}})
	if res.NumRows() != 1 || rowText(res.Rows[0])[1] != "Alicia" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

// Scenario 3: Delete + rollback.
func TestEngine_DeleteAndRollback(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "users", Columns: usersSchema()})
	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"1", "Alice"}})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"2", "Bob"}})
	mustExec(t, e, Statement{Kind: StmtCommit})

	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtDelete, Table: "users", Where: &Predicate{Column: "id", Op: "=", Value: "2"}})
	mustExec(t, e, Statement{Kind: StmtCommit})

	res := mustExec(t, e, Statement{Kind: StmtSelect, Table: "users", Where: &Predicate{Column: "id", Op: "=", Value: "2"}})
	if res.NumRows() != 0 {
		t.Fatalf("expected id=2 gone, got %d rows", res.NumRows())
	}

	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"5", "Eve"}})
	mustExec(t, e, Statement{Kind: StmtRollback})

	res = mustExec(t, e, Statement{Kind: StmtSelect, Table: "users", Where: &Predicate{Column: "id", Op: "=", Value: "5"}})
	if res.NumRows() != 0 {
		t.Fatalf("expected id=5 absent after rollback, got %d rows", res.NumRows())
	}
}

// Scenario 4: Secondary index backfill.
func TestEngine_SecondaryIndexBackfill(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	cols := []catalog.ColumnSchema{
		{Name: "id", Type: catalog.TypeInt, IsPrimaryKey: true},
		{Name: "name", Type: catalog.TypeVarchar, VarcharLen: 50},
		{Name: "price", Type: catalog.TypeInt},
	}
	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "p", Columns: cols})
	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "p", Values: []string{"1", "Apple", "100"}})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "p", Values: []string{"2", "Banana", "50"}})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "p", Values: []string{"3", "Cherry", "150"}})
	mustExec(t, e, Statement{Kind: StmtCommit})

	mustExec(t, e, Statement{Kind: StmtCreateIndex, Table: "p", IndexName: "price_idx", IndexColumn: "price"})

	res := mustExec(t, e, Statement{Kind: StmtSelect, Table: "p", Where: &Predicate{Column: "price", Op: "=", Value: "100"}})
	if res.NumRows() != 1 || rowText(res.Rows[0])[1] != "Apple" {
		t.Fatalf("unexpected index lookup result: %+v", res)
	}

	res = mustExec(t, e, Statement{Kind: StmtSelect, Table: "p", Where: &Predicate{Column: "price", Op: "=", Value: "200"}})
	if res.NumRows() != 0 {
		t.Fatalf("expected empty result for price=200, got %d rows", res.NumRows())
	}
}

// Scenario 5: Crash recovery.
func TestEngine_CrashRecovery(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)

	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "users", Columns: usersSchema()})
	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"1", "Alice"}})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"2", "Bob"}})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"3", "Charlie"}})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "users", Values: []string{"4", "David"}})
	mustExec(t, e, Statement{Kind: StmtCommit})
	// simulate crash: never call e.Close()

	e2 := openTestEngine(t, cfg)
	res := mustExec(t, e2, Statement{Kind: StmtSelect, Table: "users"})
	if res.NumRows() != 4 {
		t.Fatalf("expected 4 rows after reopen, got %d", res.NumRows())
	}

	mustExec(t, e2, Statement{Kind: StmtBegin})
	mustExec(t, e2, Statement{Kind: StmtInsert, Table: "users", Values: []string{"99", "X"}})
	// simulate crash without COMMIT

	e3 := openTestEngine(t, cfg)
	defer e3.Close()
	res = mustExec(t, e3, Statement{Kind: StmtSelect, Table: "users", Where: &Predicate{Column: "id", Op: "=", Value: "99"}})
	if res.NumRows() != 0 {
		t.Fatalf("expected uncommitted row id=99 absent after crash, got %d rows", res.NumRows())
	}
	res = mustExec(t, e3, Statement{Kind: StmtSelect, Table: "users"})
	if res.NumRows() != 4 {
		t.Fatalf("expected 4 surviving rows, got %d", res.NumRows())
	}
}

// Scenario 6: Index consistency under UPDATE.
func TestEngine_IndexConsistencyUnderUpdate(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	cols := []catalog.ColumnSchema{
		{Name: "id", Type: catalog.TypeInt, IsPrimaryKey: true},
		{Name: "category", Type: catalog.TypeVarchar, VarcharLen: 50},
		{Name: "rating", Type: catalog.TypeInt},
	}
	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "items", Columns: cols})
	mustExec(t, e, Statement{Kind: StmtCreateIndex, Table: "items", IndexName: "rating_idx", IndexColumn: "rating"})

	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "items", Values: []string{"1", "Electronics", "5"}})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "items", Values: []string{"2", "Books", "4"}})
	mustExec(t, e, Statement{Kind: StmtCommit})

	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtUpdate, Table: "items", SetColumn: "category", SetValue: "Gadgets", Where: &Predicate{Column: "id", Op: "=", Value: "1"}})
	mustExec(t, e, Statement{Kind: StmtCommit})

	res := mustExec(t, e, Statement{Kind: StmtSelect, Table: "items", Where: &Predicate{Column: "rating", Op: "=", Value: "5"}})
	if res.NumRows() != 1 {
		t.Fatalf("expected exactly one row for rating=5, got %d", res.NumRows())
	}
	got := rowText(res.Rows[0])
	if got[0] != "1" || got[1] != "Gadgets" || got[2] != "5" {
		t.Fatalf("unexpected row after update: %v", got)
	}
}

func TestEngine_DeleteNonExistentIsNoop(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "users", Columns: usersSchema()})
	mustExec(t, e, Statement{Kind: StmtBegin})
	if err := mustNoResult(t, e, Statement{Kind: StmtDelete, Table: "users", Where: &Predicate{Column: "id", Op: "=", Value: "404"}}); err != nil {
		t.Fatal(err)
	}
	mustExec(t, e, Statement{Kind: StmtCommit})
}

func mustNoResult(t *testing.T, e *Engine, stmt Statement) error {
	t.Helper()
	_, err := e.Execute(stmt)
	return err
}

func TestEngine_DMLRejectedOutsideTransaction(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "users", Columns: usersSchema()})
	_, err := e.Execute(Statement{Kind: StmtInsert, Table: "users", Values: []string{"1", "Alice"}})
	if _, ok := err.(*UsageError); !ok {
		t.Fatalf("expected *UsageError, got %v", err)
	}
}

func TestEngine_DoubleBeginRejected(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	mustExec(t, e, Statement{Kind: StmtBegin})
	_, err := e.Execute(Statement{Kind: StmtBegin})
	if _, ok := err.(*UsageError); !ok {
		t.Fatalf("expected *UsageError, got %v", err)
	}
}

func wideSchema() []catalog.ColumnSchema {
	return []catalog.ColumnSchema{
		{Name: "id", Type: catalog.TypeInt, IsPrimaryKey: true},
		{Name: "bio", Type: catalog.TypeVarchar, VarcharLen: 255},
	}
}

// A row between 101 and 255 bytes used to crash the process via a panic
// deep in the B+Tree; it must now round-trip through an overflow page.
func TestEngine_InsertAndSelectRowBetween101And255Bytes(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	bio := strings.Repeat("x", 180)
	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "people", Columns: wideSchema()})
	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "people", Values: []string{"1", bio}})
	mustExec(t, e, Statement{Kind: StmtCommit})

	res := mustExec(t, e, Statement{Kind: StmtSelect, Table: "people", Where: &Predicate{Column: "id", Op: "=", Value: "1"}})
	if res.NumRows() != 1 || rowText(res.Rows[0])[1] != bio {
		t.Fatalf("unexpected result for wide row: %+v", res)
	}
}

// UPDATE must also route a wide value through the overflow path.
func TestEngine_UpdateToRowBetween101And255Bytes(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	bio := strings.Repeat("y", 140)
	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "people", Columns: wideSchema()})
	mustExec(t, e, Statement{Kind: StmtBegin})
	mustExec(t, e, Statement{Kind: StmtInsert, Table: "people", Values: []string{"1", "short"}})
	mustExec(t, e, Statement{Kind: StmtUpdate, Table: "people", SetColumn: "bio", SetValue: bio, Where: &Predicate{Column: "id", Op: "=", Value: "1"}})
	mustExec(t, e, Statement{Kind: StmtCommit})

	res := mustExec(t, e, Statement{Kind: StmtSelect, Table: "people", Where: &Predicate{Column: "id", Op: "=", Value: "1"}})
	if res.NumRows() != 1 || rowText(res.Rows[0])[1] != bio {
		t.Fatalf("unexpected result after wide update: %+v", res)
	}
}

// A row beyond the 255-byte ceiling must be rejected as a usage error, not
// a panic.
func TestEngine_InsertRowOverMaxValueSizeIsUsageError(t *testing.T) {
	cfg := testConfig(t)
	e := openTestEngine(t, cfg)
	defer e.Close()

	bio := strings.Repeat("z", 260)
	mustExec(t, e, Statement{Kind: StmtCreateTable, Table: "people", Columns: wideSchema()})
	mustExec(t, e, Statement{Kind: StmtBegin})
	_, err := e.Execute(Statement{Kind: StmtInsert, Table: "people", Values: []string{"1", bio}})
	if _, ok := err.(*UsageError); !ok {
		t.Fatalf("expected *UsageError, got %v", err)
	}
	mustExec(t, e, Statement{Kind: StmtCommit})

	res := mustExec(t, e, Statement{Kind: StmtSelect, Table: "people"})
	if res.NumRows() != 0 {
		t.Fatalf("rejected oversized row must not have been inserted, got %d rows", res.NumRows())
	}
}
