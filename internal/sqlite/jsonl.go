// JSONL read/write helpers with atomic persistence. Each table has one
// JSONL file in DataDir holding one JSON object per row.
package sqlite

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Table names, also used as JSONL file stems.
const (
	tableResidues        = "residues"
	tableRequests        = "requests"
	tableRequestResidues = "request_residues"
	tableStatuses        = "statuses"
)

// jsonlTableMapping maps JSONL files to their tables and column lists.
// Tables with foreign keys load after the tables they reference.
var jsonlTableMapping = []struct {
	file    string
	table   string
	columns []string
	orderBy string
}{
	{"residues.jsonl", tableResidues, []string{"id", "name", "description", "weight", "volume", "request_token", "created_at"}, "id"},
	{"requests.jsonl", tableRequests, []string{"id", "token", "municipality", "datetime", "status", "created_at"}, "id"},
	{"request_residues.jsonl", tableRequestResidues, []string{"request_id", "residue_id", "position"}, "request_id, position"},
	{"statuses.jsonl", tableStatuses, []string{"id", "request_id", "status", "timestamp"}, "id"},
}

// Persist sets per write operation.
var (
	residueFiles = []string{tableResidues}
	requestFiles = []string{tableResidues, tableRequests, tableRequestResidues, tableStatuses}
	ledgerFiles  = []string{tableRequests, tableStatuses}
)

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped. A missing file reads as
// empty.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(format string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf(format, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// initJSONLFiles creates any missing JSONL file as an empty file.
func initJSONLFiles(dataDir string) error {
	for _, m := range jsonlTableMapping {
		path := filepath.Join(dataDir, m.file)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", m.file, err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return fmt.Errorf("creating %s: %w", m.file, err)
		}
	}
	return nil
}

// persistTableJSONL rewrites the JSONL file of table from its current rows.
func persistTableJSONL(ctx context.Context, db *sql.DB, dataDir, table string) error {
	for _, m := range jsonlTableMapping {
		if m.table != table {
			continue
		}
		query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
			strings.Join(m.columns, ", "), m.table, m.orderBy)
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("querying %s: %w", table, err)
		}
		defer rows.Close()

		var records []json.RawMessage
		for rows.Next() {
			vals := make([]any, len(m.columns))
			ptrs := make([]any, len(m.columns))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return fmt.Errorf("scanning %s: %w", table, err)
			}
			obj := make(map[string]any, len(m.columns))
			for i, col := range m.columns {
				if b, ok := vals[i].([]byte); ok {
					obj[col] = string(b)
					continue
				}
				obj[col] = vals[i]
			}
			rec, err := json.Marshal(obj)
			if err != nil {
				return fmt.Errorf("encoding %s row: %w", table, err)
			}
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating %s: %w", table, err)
		}
		return writeJSONL(filepath.Join(dataDir, m.file), records)
	}
	return fmt.Errorf("unknown table %q", table)
}
