// Schema DDL for the residue, request, request_residues and statuses tables.
// SQLite and PostgreSQL differ only in key and float column types.
package sqlite

// SQLite DDL. The database is rebuilt from JSONL on every Attach, so the
// statements do not need IF NOT EXISTS.
const (
	createResiduesSQLite = `CREATE TABLE residues (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    weight REAL NOT NULL,
    volume REAL NOT NULL,
    request_token TEXT,
    created_at TEXT NOT NULL
);`

	createRequestsSQLite = `CREATE TABLE requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    token TEXT NOT NULL UNIQUE,
    municipality TEXT NOT NULL,
    datetime TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL
);`

	createRequestResiduesSQLite = `CREATE TABLE request_residues (
    request_id INTEGER NOT NULL,
    residue_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (request_id, residue_id),
    FOREIGN KEY (request_id) REFERENCES requests(id),
    FOREIGN KEY (residue_id) REFERENCES residues(id)
);`

	createStatusesSQLite = `CREATE TABLE statuses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    FOREIGN KEY (request_id) REFERENCES requests(id)
);`
)

// PostgreSQL DDL. The database outlives the process, so every statement is
// idempotent.
const (
	createResiduesPostgres = `CREATE TABLE IF NOT EXISTS residues (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    weight DOUBLE PRECISION NOT NULL,
    volume DOUBLE PRECISION NOT NULL,
    request_token TEXT,
    created_at TEXT NOT NULL
);`

	createRequestsPostgres = `CREATE TABLE IF NOT EXISTS requests (
    id BIGSERIAL PRIMARY KEY,
    token TEXT NOT NULL UNIQUE,
    municipality TEXT NOT NULL,
    datetime TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL
);`

	createRequestResiduesPostgres = `CREATE TABLE IF NOT EXISTS request_residues (
    request_id BIGINT NOT NULL REFERENCES requests(id),
    residue_id BIGINT NOT NULL REFERENCES residues(id),
    position INTEGER NOT NULL,
    PRIMARY KEY (request_id, residue_id)
);`

	createStatusesPostgres = `CREATE TABLE IF NOT EXISTS statuses (
    id BIGSERIAL PRIMARY KEY,
    request_id BIGINT NOT NULL REFERENCES requests(id),
    status TEXT NOT NULL,
    timestamp TEXT NOT NULL
);`
)

// Index DDL shared by both dialects. A residue appears in at most one
// request's residue set.
const (
	idxRequestResiduesResidue = `CREATE UNIQUE INDEX IF NOT EXISTS idx_request_residues_residue ON request_residues(residue_id);`
	idxResiduesRequestToken   = `CREATE INDEX IF NOT EXISTS idx_residues_request_token ON residues(request_token);`
	idxRequestsMunicipality   = `CREATE INDEX IF NOT EXISTS idx_requests_municipality ON requests(municipality);`
	idxStatusesRequest        = `CREATE INDEX IF NOT EXISTS idx_statuses_request ON statuses(request_id, id);`
)

var indexDDL = []string{
	idxRequestResiduesResidue,
	idxResiduesRequestToken,
	idxRequestsMunicipality,
	idxStatusesRequest,
}

// sqliteDDL lists the SQLite statements in dependency order.
var sqliteDDL = append([]string{
	createResiduesSQLite,
	createRequestsSQLite,
	createRequestResiduesSQLite,
	createStatusesSQLite,
}, indexDDL...)

// postgresDDL lists the PostgreSQL statements in dependency order.
var postgresDDL = append([]string{
	createResiduesPostgres,
	createRequestsPostgres,
	createRequestResiduesPostgres,
	createStatusesPostgres,
}, indexDDL...)
