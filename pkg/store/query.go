package store

import (
	"context"
	"fmt"
	"strings"
)

// QueryResult holds rows from a sandboxed read-only query.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`

	// Truncated is set when the row clamp cut the result off.
	Truncated bool `json:"truncated"`
}

// readOnlyPrefixes are the statement kinds the sandbox accepts.
var readOnlyPrefixes = []string{"SELECT", "WITH", "EXPLAIN"}

// forbiddenKeywords rejects anything that could mutate state, as whole
// words anywhere in the statement. Defense in depth: the handle this runs
// on is query_only to begin with.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "CREATE": true, "ATTACH": true, "DETACH": true,
	"PRAGMA": true, "VACUUM": true, "REINDEX": true, "REPLACE": true,
	"TRUNCATE": true, "COMMIT": true, "ROLLBACK": true, "TRANSACTION": true,
}

// RunQuery executes an arbitrary read-only statement against the read-only
// handle, rejecting anything that is not plainly a read before it executes.
// Results are clamped to the store's read bound.
func (s *Store) RunQuery(ctx context.Context, query string) (*QueryResult, error) {
	if err := s.FlushActivities(ctx); err != nil {
		return nil, err
	}
	if err := checkReadOnlySQL(query); err != nil {
		return nil, err
	}

	rows, err := s.ro.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: run query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("store: run query: %w", err)
	}

	result := &QueryResult{Columns: cols}
	for rows.Next() {
		if len(result.Rows) >= s.maxReadRows {
			result.Truncated = true
			break
		}

		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("store: scan query row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: run query: %w", err)
	}
	return result, nil
}

// checkReadOnlySQL rejects statements that are not plainly reads: the
// first keyword must be SELECT, WITH or EXPLAIN, and no forbidden keyword
// may appear anywhere outside a string literal.
func checkReadOnlySQL(query string) error {
	stripped := stripSQLComments(query)
	trimmed := strings.TrimSpace(stripped)
	if trimmed == "" {
		return fmt.Errorf("store: empty query: %w", ErrForbiddenSQL)
	}

	upper := strings.ToUpper(trimmed)
	allowed := false
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(upper, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("store: statement must start with SELECT, WITH or EXPLAIN: %w", ErrForbiddenSQL)
	}

	for _, word := range sqlWords(upper) {
		if forbiddenKeywords[word] {
			return fmt.Errorf("store: statement contains %s: %w", word, ErrForbiddenSQL)
		}
	}
	return nil
}

// stripSQLComments removes -- line comments and /* */ block comments,
// leaving string literals intact.
func stripSQLComments(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]

		if inString {
			b.WriteByte(c)
			if c == '\'' {
				inString = false
			}
			continue
		}

		switch {
		case c == '\'':
			inString = true
			b.WriteByte(c)
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			for i < len(query) && query[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			i += 2
			for i+1 < len(query) && !(query[i] == '*' && query[i+1] == '/') {
				i++
			}
			i++ // skip the closing '/'
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// sqlWords extracts bare words from an uppercased statement, skipping
// single- and double-quoted regions so literals like 'DROP' cannot trip
// the denylist.
func sqlWords(upper string) []string {
	var words []string
	var current strings.Builder
	var quote byte

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for i := 0; i < len(upper); i++ {
		c := upper[i]

		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			flush()
			quote = c
			continue
		}

		if c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' {
			current.WriteByte(c)
		} else {
			flush()
		}
	}
	flush()
	return words
}
