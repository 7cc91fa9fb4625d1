// Package db provides the database boundary for InsightSQL: schema
// introspection, read-only statement execution, and the structured
// errors the reasoning loop recovers from.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Column describes a single column of an introspected table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SchemaSnapshot holds the introspected table layout of a connection.
// It is derived once per connection and cached for the session's
// lifetime; reconnecting is the only way to invalidate it.
type SchemaSnapshot struct {
	Tables map[string][]Column `json:"tables"`
}

// TableNames returns the table names in sorted order.
func (s *SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render produces the compact textual description used to ground the
// reasoning model. One line per table: "table(col TYPE, col TYPE)".
func (s *SchemaSnapshot) Render() string {
	var b strings.Builder
	for _, name := range s.TableNames() {
		cols := s.Tables[name]
		parts := make([]string, len(cols))
		for i, c := range cols {
			if c.Type == "" {
				parts[i] = c.Name
				continue
			}
			parts[i] = c.Name + " " + c.Type
		}
		fmt.Fprintf(&b, "%s(%s)\n", name, strings.Join(parts, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Describe enumerates all user tables and their columns. It issues
// metadata queries only and never fetches row data.
func Describe(ctx context.Context, handle *sql.DB) (*SchemaSnapshot, error) {
	if handle == nil {
		return nil, NewConnectionError("", "nil database handle", nil)
	}
	if err := handle.PingContext(ctx); err != nil {
		return nil, NewConnectionError("", "database unreachable: "+err.Error(), err)
	}

	rows, err := handle.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, NewConnectionError("", "list tables: "+err.Error(), err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := &SchemaSnapshot{Tables: make(map[string][]Column)}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, NewConnectionError("", "scan table name: "+err.Error(), err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, NewConnectionError("", "iterate tables: "+err.Error(), err)
	}

	for _, name := range names {
		cols, err := describeTable(ctx, handle, name)
		if err != nil {
			return nil, err
		}
		snapshot.Tables[name] = cols
	}

	return snapshot, nil
}

func describeTable(ctx context.Context, handle *sql.DB, table string) ([]Column, error) {
	rows, err := handle.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, NewConnectionError("", "describe table "+table+": "+err.Error(), err)
	}
	defer func() { _ = rows.Close() }()

	var cols []Column
	for rows.Next() {
		var (
			cid          int
			name, ctype  string
			notNull, pk  int
			defaultValue sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &pk); err != nil {
			return nil, NewConnectionError("", "scan column of "+table+": "+err.Error(), err)
		}
		cols = append(cols, Column{Name: name, Type: ctype})
	}
	if err := rows.Err(); err != nil {
		return nil, NewConnectionError("", "iterate columns of "+table+": "+err.Error(), err)
	}
	return cols, nil
}
