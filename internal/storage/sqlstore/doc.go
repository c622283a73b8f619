// Package sqlstore implements a polling task queue on top of database/sql.
// SQLite (modernc.org/sqlite, file or in-memory) and MySQL
// (github.com/go-sql-driver/mysql) share one schema, applied through the
// versioned migrations embedded in deploy/migrations.
package sqlstore
