package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"idem/internal/database"
	"idem/internal/database/migrations"
)

// Regenerates internal/database/schema.go from the migration files by
// applying them to an in-memory database and dumping sqlite_master.

func main() {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	schema, err := extractSchema(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to extract schema: %v\n", err)
		os.Exit(1)
	}

	out := "// Code generated by internal/database/tools/generate_schema.go; DO NOT EDIT.\n" +
		"// Source: internal/database/migrations/files/*.sql\n\n" +
		"package database\n\n" +
		"// Schema is the full index schema at the latest migration version,\n" +
		"// for seeding in-memory test databases without running migrations.\n" +
		"const Schema = `\n" + schema + "`\n"

	outPath := filepath.Join("internal", "database", "schema.go")
	if err := os.WriteFile(outPath, []byte(out), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s from migrations\n", outPath)
}

// extractSchema dumps the CREATE statements from sqlite_master,
// excluding SQLite internals and the migration tracking table.
func extractSchema(db *sql.DB) (string, error) {
	query := `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name
	`

	rows, err := db.Query(query)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var schema string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scan failed: %w", err)
		}
		schema += stmt + "\n\n"
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}

	return schema, nil
}
