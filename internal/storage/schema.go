package storage

import (
	_ "embed"
	"strings"
)

//go:embed schema/postgres.sql
var postgresSchema string

//go:embed schema/sqlite.sql
var sqliteSchema string

// splitStatements breaks a schema file into individual statements.
func splitStatements(schema string) []string {
	parts := strings.Split(schema, ";")
	stmts := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
