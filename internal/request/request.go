// Package request implements a thin textual-SQL front end kept out of
// scope for the storage engine itself: a case-sensitive, prefix-matched
// tokenizer/parser translating a small statement grammar subset into the
// engine.Statement value the dispatcher consumes.
//
// This is deliberately minimal — no general expression grammar, no nested
// queries, no escaping beyond single-quote stripping — glue that does not
// affect correctness of the storage substrate. It may be replaced
// wholesale without touching internal/engine.
package request

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pagesql/pagesql/internal/catalog"
	"github.com/pagesql/pagesql/internal/engine"
)

var (
	createTableRe = regexp.MustCompile(`^CREATE TABLE\s+(\w+)\s*\((.*)\)\s*$`)
	createIndexRe = regexp.MustCompile(`^CREATE\s+(UNIQUE\s+)?INDEX\s+(\w+)\s+ON\s+(\w+)\s*\(\s*(\w+)\s*\)\s*$`)
	dropIndexRe   = regexp.MustCompile(`^DROP INDEX\s+(\w+)\s+ON\s+(\w+)\s*$`)
	insertRe      = regexp.MustCompile(`^INSERT INTO\s+(\w+)\s+VALUES\s*\((.*)\)\s*$`)
	updateRe      = regexp.MustCompile(`^UPDATE\s+(\w+)\s+SET\s+(\w+)\s*=\s*(.+?)\s+WHERE\s+id\s*=\s*(-?\d+)\s*$`)
	deleteRe      = regexp.MustCompile(`^DELETE FROM\s+(\w+)\s+WHERE\s+id\s*=\s*(-?\d+)\s*$`)
	selectRe      = regexp.MustCompile(`^SELECT\s+\*\s+FROM\s+(\w+)(?:\s+WHERE\s+(\w+)\s*(=|!=|<=|>=|<|>)\s*(.+?))?\s*$`)
)

// Parse translates one line of textual SQL into an engine.Statement.
// Unrecognized input returns (nil, nil) — no result and no error — rather
// than a syntax error, silently ignoring lines it doesn't recognize.
func Parse(line string) (*engine.Statement, error) {
	line = strings.TrimSpace(line)
	line = strings.TrimSuffix(line, ";")
	switch {
	case line == "BEGIN":
		return &engine.Statement{Kind: engine.StmtBegin}, nil
	case line == "COMMIT":
		return &engine.Statement{Kind: engine.StmtCommit}, nil
	case line == "ROLLBACK":
		return &engine.Statement{Kind: engine.StmtRollback}, nil
	case strings.HasPrefix(line, "CREATE TABLE"):
		return parseCreateTable(line)
	case strings.HasPrefix(line, "CREATE INDEX") || strings.HasPrefix(line, "CREATE UNIQUE INDEX"):
		return parseCreateIndex(line)
	case strings.HasPrefix(line, "DROP INDEX"):
		return parseDropIndex(line)
	case strings.HasPrefix(line, "INSERT INTO"):
		return parseInsert(line)
	case strings.HasPrefix(line, "UPDATE"):
		return parseUpdate(line)
	case strings.HasPrefix(line, "DELETE FROM"):
		return parseDelete(line)
	case strings.HasPrefix(line, "SELECT"):
		return parseSelect(line)
	default:
		return nil, nil
	}
}

func parseCreateTable(line string) (*engine.Statement, error) {
	m := createTableRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("request: malformed CREATE TABLE: %q", line)
	}
	table, defs := m[1], m[2]
	var cols []catalog.ColumnSchema
	for _, def := range strings.Split(defs, ",") {
		col, err := parseColumnDef(def)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return &engine.Statement{Kind: engine.StmtCreateTable, Table: table, Columns: cols}, nil
}

var columnTypeRe = regexp.MustCompile(`^(\w+)\s+(\w+)(?:\((\d+)\))?(.*)$`)

func parseColumnDef(def string) (catalog.ColumnSchema, error) {
	def = strings.TrimSpace(def)
	m := columnTypeRe.FindStringSubmatch(def)
	if m == nil {
		return catalog.ColumnSchema{}, fmt.Errorf("request: malformed column definition: %q", def)
	}
	name, typeName, lenStr, rest := m[1], strings.ToUpper(m[2]), m[3], m[4]
	ct, err := parseColumnType(typeName)
	if err != nil {
		return catalog.ColumnSchema{}, err
	}
	var varcharLen uint16
	if lenStr != "" {
		n, err := strconv.Atoi(lenStr)
		if err != nil {
			return catalog.ColumnSchema{}, fmt.Errorf("request: bad VARCHAR length in %q", def)
		}
		varcharLen = uint16(n)
	}
	isPK := strings.Contains(strings.ToUpper(rest), "PRIMARY KEY")
	return catalog.ColumnSchema{Name: name, Type: ct, VarcharLen: varcharLen, IsPrimaryKey: isPK}, nil
}

func parseColumnType(name string) (catalog.ColumnType, error) {
	switch name {
	case "INT":
		return catalog.TypeInt, nil
	case "VARCHAR":
		return catalog.TypeVarchar, nil
	case "FLOAT":
		return catalog.TypeFloat, nil
	case "DOUBLE":
		return catalog.TypeDouble, nil
	case "TEXT":
		return catalog.TypeText, nil
	case "DATE":
		return catalog.TypeDate, nil
	case "TIMESTAMP":
		return catalog.TypeTimestamp, nil
	case "BOOLEAN":
		return catalog.TypeBoolean, nil
	default:
		return 0, fmt.Errorf("request: unknown column type %q", name)
	}
}

func parseCreateIndex(line string) (*engine.Statement, error) {
	m := createIndexRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("request: malformed CREATE INDEX: %q", line)
	}
	unique := m[1] != ""
	return &engine.Statement{
		Kind:        engine.StmtCreateIndex,
		IndexName:   m[2],
		Table:       m[3],
		IndexColumn: m[4],
		IndexUnique: unique,
	}, nil
}

func parseDropIndex(line string) (*engine.Statement, error) {
	m := dropIndexRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("request: malformed DROP INDEX: %q", line)
	}
	return &engine.Statement{Kind: engine.StmtDropIndex, IndexName: m[1], Table: m[2]}, nil
}

func parseInsert(line string) (*engine.Statement, error) {
	m := insertRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("request: malformed INSERT: %q", line)
	}
	return &engine.Statement{Kind: engine.StmtInsert, Table: m[1], Values: splitCSV(m[2])}, nil
}

func parseUpdate(line string) (*engine.Statement, error) {
	m := updateRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("request: malformed UPDATE: %q", line)
	}
	return &engine.Statement{
		Kind:      engine.StmtUpdate,
		Table:     m[1],
		SetColumn: m[2],
		SetValue:  strings.TrimSpace(m[3]),
		Where:     &engine.Predicate{Column: "id", Op: "=", Value: m[4]},
	}, nil
}

func parseDelete(line string) (*engine.Statement, error) {
	m := deleteRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("request: malformed DELETE: %q", line)
	}
	return &engine.Statement{
		Kind:  engine.StmtDelete,
		Table: m[1],
		Where: &engine.Predicate{Column: "id", Op: "=", Value: m[2]},
	}, nil
}

func parseSelect(line string) (*engine.Statement, error) {
	m := selectRe.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("request: malformed SELECT: %q", line)
	}
	stmt := &engine.Statement{Kind: engine.StmtSelect, Table: m[1]}
	if m[2] != "" {
		stmt.Where = &engine.Predicate{Column: m[2], Op: m[3], Value: strings.TrimSpace(m[4])}
	}
	return stmt, nil
}

// splitCSV splits a VALUES(...) body on top-level commas, leaving quoted
// values and surrounding whitespace intact for the engine to trim.
func splitCSV(body string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	for _, r := range body {
		switch {
		case r == '\'':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ',' && !inQuote:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 || len(out) > 0 {
		out = append(out, cur.String())
	}
	return out
}
