// JSONL loading for startup.
package sqlite

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// loadAllJSONL reads each JSONL file from DataDir and inserts its records
// into the corresponding table. Loading is transactional: all succeed or the
// database remains empty. Malformed lines and rows violating a constraint
// are skipped. Unknown fields in JSONL records are ignored.
func loadAllJSONL(db *sql.DB, dataDir string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, mapping := range jsonlTableMapping {
		path := filepath.Join(dataDir, mapping.file)
		records, err := readJSONL(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", mapping.file, err)
		}
		if len(records) == 0 {
			continue
		}
		if err := insertRecords(tx, mapping.table, mapping.columns, records); err != nil {
			return fmt.Errorf("loading %s into %s: %w", mapping.file, mapping.table, err)
		}
	}

	if err := reconcileClaims(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// reconcileClaimsSQL makes residue back-references agree with the loaded
// request sets. A token is kept only when a stored request with that token
// lists the residue; a residue listed by a request but carrying no token
// takes the token of the earliest such request.
var reconcileClaimsSQL = []string{
	`UPDATE residues SET request_token = NULL
	 WHERE request_token IS NOT NULL AND NOT EXISTS (
	   SELECT 1 FROM request_residues rr JOIN requests r ON r.id = rr.request_id
	   WHERE rr.residue_id = residues.id AND r.token = residues.request_token)`,
	`UPDATE residues SET request_token = (
	   SELECT r.token FROM request_residues rr JOIN requests r ON r.id = rr.request_id
	   WHERE rr.residue_id = residues.id ORDER BY r.id LIMIT 1)
	 WHERE request_token IS NULL AND EXISTS (
	   SELECT 1 FROM request_residues rr WHERE rr.residue_id = residues.id)`,
}

// reconcileClaims repairs back-references left inconsistent by files that
// were rewritten one at a time.
func reconcileClaims(tx *sql.Tx) error {
	for _, stmt := range reconcileClaimsSQL {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("reconciling residue claims: %w", err)
		}
	}
	return nil
}

// insertRecords inserts parsed JSONL records into a table. Only columns
// listed in the mapping are extracted.
func insertRecords(tx *sql.Tx, table string, columns []string, records []json.RawMessage) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(columns, ", "),
		placeholders,
	)

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", table, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		obj, ok := decodeRecord(rec)
		if !ok {
			continue
		}

		args := make([]any, len(columns))
		for i, col := range columns {
			args[i] = columnValue(obj[col])
		}

		// Rows that violate a constraint are dropped.
		if _, err := stmt.Exec(args...); err != nil {
			continue
		}
	}
	return nil
}

// decodeRecord decodes a JSONL record keeping numbers exact.
func decodeRecord(rec json.RawMessage) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(rec))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	return obj, true
}

// columnValue converts a decoded JSON value into a driver argument.
func columnValue(val any) any {
	switch v := val.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}
