package tracker

// TableName is the version tracking table. Its presence and contents define
// the schema version of a database, and it is copied last by a migration.
const TableName = "version"

// DefaultSystem is the system label versions are recorded under.
const DefaultSystem = "metadata"

// createTableSQL is the generic DDL for the version tracking table. It must
// agree with the table catalog's definition.
const createTableSQL = `CREATE TABLE IF NOT EXISTS version (
    system_name VARCHAR(20) NOT NULL,
    version INTEGER NOT NULL
)`
