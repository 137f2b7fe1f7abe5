package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// PostgresFS embeds the relational schema (ledger, controls, playbooks, stats, risk state).
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the analytics schema (optimizer grid results).
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// migration is one embedded SQL file split into statements.
type migration struct {
	Name       string
	Statements []string
}

// load returns the .sql files under dir in lexical order. Files with no
// statements are dropped. Every statement must be create-if-missing.
func load(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		stmts, err := split(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", name, err)
		}
		if len(stmts) == 0 {
			continue
		}
		for i, stmt := range stmts {
			if err := checkCreateIfMissing(stmt); err != nil {
				return nil, fmt.Errorf("migration %s statement %d: %w", name, i+1, err)
			}
		}
		out = append(out, migration{Name: name, Statements: stmts})
	}
	return out, nil
}

// split breaks sql into statements on semicolons outside single-quoted
// literals. Line comments are dropped. The ClickHouse native driver rejects
// multi-statement Exec, so both runners apply one statement at a time.
func split(sql string) ([]string, error) {
	var (
		stmts   []string
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case inQuote:
			cur.WriteByte(ch)
			if ch == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					cur.WriteByte('\'')
					i++
					continue
				}
				inQuote = false
			}
		case ch == '\'':
			inQuote = true
			cur.WriteByte(ch)
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string literal")
	}
	flush()
	return stmts, nil
}

// checkCreateIfMissing rejects anything but CREATE ... IF NOT EXISTS so that
// applying the schema twice is always a no-op.
func checkCreateIfMissing(stmt string) error {
	upper := strings.ToUpper(strings.Join(strings.Fields(stmt), " "))
	if !strings.HasPrefix(upper, "CREATE ") || !strings.Contains(upper, " IF NOT EXISTS ") {
		head := stmt
		if len(head) > 40 {
			head = head[:40] + "..."
		}
		return fmt.Errorf("only CREATE ... IF NOT EXISTS is allowed, got %q", head)
	}
	return nil
}
