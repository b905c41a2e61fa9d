package catalog

// schemaSQL is applied idempotently (CREATE TABLE IF NOT EXISTS) on every
// Open. Foreign keys cascade from trove so that deleting a trove row
// removes its files/dependencies/provides/components in the same
// statement, matching the transaction engine's single-DELETE-cascades-all
// removal semantics.
const schemaSQL = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS troves (
	id                         INTEGER PRIMARY KEY AUTOINCREMENT,
	name                       TEXT NOT NULL,
	version                    TEXT NOT NULL,
	architecture               TEXT,
	description                TEXT,
	trove_type                 TEXT NOT NULL CHECK (trove_type IN ('package','component','collection')),
	install_source             TEXT NOT NULL CHECK (install_source IN ('native','adopted-track','adopted-full','derived')),
	pinned                     INTEGER NOT NULL DEFAULT 0,
	installed_at               TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	installed_by_changeset_id  INTEGER REFERENCES changesets(id),
	UNIQUE (name, version, architecture)
);
CREATE INDEX IF NOT EXISTS idx_troves_name ON troves(name);
-- The UNIQUE clause above treats NULL architectures as distinct; this
-- index makes (name, version, no architecture) unique as well.
CREATE UNIQUE INDEX IF NOT EXISTS idx_troves_identity ON troves(name, version, IFNULL(architecture, ''));

CREATE TABLE IF NOT EXISTS changesets (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	description     TEXT NOT NULL,
	status          TEXT NOT NULL CHECK (status IN ('pending','applied','rolled_back')) DEFAULT 'pending',
	metadata        BLOB,
	reversed_by_id  INTEGER REFERENCES changesets(id),
	created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	applied_at      TEXT,
	rolled_back_at  TEXT
);

CREATE TABLE IF NOT EXISTS files (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	path         TEXT NOT NULL UNIQUE,
	hash         TEXT,
	placeholder  INTEGER NOT NULL DEFAULT 0,
	size         INTEGER NOT NULL,
	mode         INTEGER NOT NULL,
	file_type    TEXT NOT NULL CHECK (file_type IN ('regular','symlink','directory')),
	owner        TEXT,
	group_name   TEXT,
	symlink_target TEXT,
	trove_id     INTEGER NOT NULL REFERENCES troves(id) ON DELETE CASCADE,
	installed_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
CREATE INDEX IF NOT EXISTS idx_files_trove ON files(trove_id);

CREATE TABLE IF NOT EXISTS file_history (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	changeset_id   INTEGER NOT NULL REFERENCES changesets(id) ON DELETE CASCADE,
	path           TEXT NOT NULL,
	action         TEXT NOT NULL CHECK (action IN ('add','modify','delete')),
	hash_before    TEXT,
	hash_after     TEXT,
	mode           INTEGER,
	seq            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_history_changeset ON file_history(changeset_id, seq);

CREATE TABLE IF NOT EXISTS dependencies (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	trove_id         INTEGER NOT NULL REFERENCES troves(id) ON DELETE CASCADE,
	depends_on_name  TEXT NOT NULL,
	version_constraint TEXT,
	kind             TEXT NOT NULL CHECK (kind IN ('runtime','build','optional','implicit'))
);
CREATE INDEX IF NOT EXISTS idx_dependencies_name ON dependencies(depends_on_name);

CREATE TABLE IF NOT EXISTS provides (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	trove_id     INTEGER NOT NULL REFERENCES troves(id) ON DELETE CASCADE,
	capability   TEXT NOT NULL,
	version      TEXT,
	kind         TEXT NOT NULL CHECK (kind IN ('declared','virtual'))
);
CREATE INDEX IF NOT EXISTS idx_provides_capability ON provides(capability);

CREATE TABLE IF NOT EXISTS components (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	trove_id   INTEGER NOT NULL REFERENCES troves(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	content_hash TEXT,
	UNIQUE (trove_id, name)
);

CREATE TABLE IF NOT EXISTS component_dependencies (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	component_id           INTEGER NOT NULL REFERENCES components(id) ON DELETE CASCADE,
	depends_on_component   TEXT NOT NULL,
	depends_on_package     TEXT,
	dependency_type        TEXT NOT NULL CHECK (dependency_type IN ('runtime','build','optional')),
	version_constraint     TEXT
);

CREATE TABLE IF NOT EXISTS redirects (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	source_name     TEXT NOT NULL,
	source_version  TEXT,
	target_name     TEXT NOT NULL,
	target_version  TEXT,
	redirect_type   TEXT NOT NULL CHECK (redirect_type IN ('rename','obsolete','merge','split')),
	message         TEXT,
	created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_redirects_source ON redirects(source_name);

CREATE TABLE IF NOT EXISTS converted_packages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	distro         TEXT NOT NULL,
	name           TEXT NOT NULL,
	version        TEXT NOT NULL,
	state          TEXT NOT NULL CHECK (state IN ('queued','converting','ready','failed')),
	job_id         TEXT NOT NULL,
	failure_reason TEXT,
	content_hash   TEXT,
	total_size     INTEGER,
	created_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (distro, name, version)
);

CREATE TABLE IF NOT EXISTS converted_package_chunks (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	converted_package_id  INTEGER NOT NULL REFERENCES converted_packages(id) ON DELETE CASCADE,
	seq                   INTEGER NOT NULL,
	chunk_hash            TEXT NOT NULL,
	chunk_size            INTEGER NOT NULL,
	UNIQUE (converted_package_id, seq)
);

CREATE TABLE IF NOT EXISTS repositories (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL UNIQUE,
	base_url  TEXT NOT NULL,
	priority  INTEGER NOT NULL DEFAULT 0,
	enabled   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS repository_packages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	repository_id  INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	version        TEXT NOT NULL,
	architecture   TEXT,
	content_hash   TEXT,
	UNIQUE (repository_id, name, version, architecture)
);

CREATE TABLE IF NOT EXISTS delta_stats (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	trove_name      TEXT NOT NULL,
	from_version    TEXT NOT NULL,
	to_version      TEXT NOT NULL,
	chunks_reused   INTEGER NOT NULL DEFAULT 0,
	chunks_fetched  INTEGER NOT NULL DEFAULT 0,
	bytes_saved     INTEGER NOT NULL DEFAULT 0,
	recorded_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scriptlets (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	trove_id     INTEGER NOT NULL REFERENCES troves(id) ON DELETE CASCADE,
	phase        TEXT NOT NULL CHECK (phase IN ('pre-install','post-install','pre-remove','post-remove')),
	interpreter  TEXT NOT NULL,
	script       TEXT NOT NULL
);
`
