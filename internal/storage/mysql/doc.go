// Package mysql provides connection pooling and schema migrations for the
// MySQL-backed task store. Migrations are embedded from deploy/migrations and
// applied once each, recorded in the schema_migrations table.
package mysql
