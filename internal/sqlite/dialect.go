package sqlite

import (
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

// dialect captures what differs between the SQL engines the backend runs
// on. Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	name   string
	driver string
	ddl    []string

	// numbered selects $1, $2, ... placeholders.
	numbered bool

	// jsonl makes JSONL files in DataDir the source of truth: the database
	// is rebuilt from them on Attach and they are rewritten after every
	// committed write.
	jsonl bool

	// serialWrites serializes write transactions inside the process. The
	// embedded engine allows one writer at a time and the JSONL files must
	// be rewritten in commit order.
	serialWrites bool
}

var (
	sqliteDialect = &dialect{
		name:         types.BackendSQLite,
		driver:       "sqlite",
		ddl:          sqliteDDL,
		jsonl:        true,
		serialWrites: true,
	}
	postgresDialect = &dialect{
		name:     types.BackendPostgres,
		driver:   "pgx",
		ddl:      postgresDDL,
		numbered: true,
	}
)

func dialectFor(backend string) (*dialect, error) {
	switch backend {
	case types.BackendSQLite:
		return sqliteDialect, nil
	case types.BackendPostgres:
		return postgresDialect, nil
	}
	return nil, types.ErrBackendUnknown
}

// rebind rewrites ? placeholders for dialects that number them.
func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// sqliteDSN builds a modernc.org/sqlite DSN with WAL journaling, foreign
// keys, and a bounded busy timeout.
func sqliteDSN(path string, busyTimeoutMS int) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(" + strconv.Itoa(busyTimeoutMS) + ")"
}
