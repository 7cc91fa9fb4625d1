package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Mutating verbs rejected by the read-only guard. The statement is
// normalized first, so comments and parentheses cannot hide the verb.
var mutatingVerbs = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"ALTER":    true,
	"CREATE":   true,
	"TRUNCATE": true,
	"REPLACE":  true,
}

const defaultMaxRows = 200

// Tool executes a single SQL statement against a connection and
// returns rows or a structured error. It never retries: recovery from
// a QueryError belongs to the reasoning loop.
type Tool struct {
	handle  *sql.DB
	maxRows int
}

// NewTool creates a SQL tool bound to a database handle.
func NewTool(handle *sql.DB) *Tool {
	return &Tool{handle: handle, maxRows: defaultMaxRows}
}

// Rows is a tabular query result with stringified cells.
type Rows struct {
	Columns   []string   `json:"columns"`
	Values    [][]string `json:"values"`
	Truncated bool       `json:"truncated,omitempty"`
}

// Render formats the rows for inclusion in a trace observation,
// capped at limit bytes (0 means no cap).
func (r *Rows) Render(limit int) string {
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	for _, row := range r.Values {
		b.WriteString("\n")
		b.WriteString(strings.Join(row, " | "))
	}
	if r.Truncated {
		b.WriteString("\n... (truncated)")
	}
	out := b.String()
	if limit > 0 && len(out) > limit {
		// Back up to a rune boundary so the cut never yields invalid UTF-8.
		cut := limit
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "..."
	}
	return out
}

// NormalizeVerb returns the first keyword of a statement after
// stripping whitespace, SQL comments and leading parentheses.
func NormalizeVerb(statement string) string {
	s := statement
	for {
		s = strings.TrimLeft(s, " \t\r\n(")
		switch {
		case strings.HasPrefix(s, "--"):
			if idx := strings.IndexByte(s, '\n'); idx >= 0 {
				s = s[idx+1:]
				continue
			}
			return ""
		case strings.HasPrefix(s, "/*"):
			if idx := strings.Index(s, "*/"); idx >= 0 {
				s = s[idx+2:]
				continue
			}
			return ""
		}
		break
	}
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' {
			end++
			continue
		}
		break
	}
	return strings.ToUpper(s[:end])
}

// Execute runs one statement and returns its rows. A statement whose
// normalized verb is a mutation is rejected with a PolicyViolation
// before any query is issued, guaranteeing the read-only contract at
// the tool layer rather than as a prompt instruction.
func (t *Tool) Execute(ctx context.Context, statement string) (*Rows, error) {
	verb := NormalizeVerb(statement)
	if mutatingVerbs[verb] {
		return nil, &PolicyViolation{Statement: statement, Verb: verb}
	}

	rows, err := t.handle.QueryContext(ctx, statement)
	if err != nil {
		return nil, &QueryError{
			Statement:     statement,
			Message:       condenseError(err),
			Raw:           err.Error(),
			OriginalError: err,
		}
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Statement: statement, Message: condenseError(err), Raw: err.Error(), OriginalError: err}
	}

	result := &Rows{Columns: cols}
	scan := make([]any, len(cols))
	for i := range scan {
		scan[i] = new(sql.NullString)
	}

	for rows.Next() {
		if len(result.Values) >= t.maxRows {
			result.Truncated = true
			break
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, &QueryError{Statement: statement, Message: condenseError(err), Raw: err.Error(), OriginalError: err}
		}
		record := make([]string, len(cols))
		for i, v := range scan {
			ns := v.(*sql.NullString)
			if ns.Valid {
				record[i] = ns.String
			} else {
				record[i] = "NULL"
			}
		}
		result.Values = append(result.Values, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Statement: statement, Message: condenseError(err), Raw: err.Error(), OriginalError: err}
	}

	return result, nil
}

// condenseError strips driver noise down to a single diagnostic line.
func condenseError(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	return fmt.Sprintf("%.300s", msg)
}
