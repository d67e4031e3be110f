package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// RunMigrations ejecuta los archivos SQL embebidos en orden
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return runMigrations(ctx, db, schemaFS, "schema")
}

func runMigrations(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) error {
	log := logrus.WithField("component", "migrate")

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("error leyendo directorio de migraciones: %w", err)
	}

	var sqlFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			sqlFiles = append(sqlFiles, e.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		log.WithField("file", filename).Info("Ejecutando migración")
		content, err := fs.ReadFile(fsys, dir+"/"+filename)
		if err != nil {
			return fmt.Errorf("error leyendo archivo %s: %w", filename, err)
		}

		for _, q := range strings.Split(string(content), ";") {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, q); err != nil {
				if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "Duplicate column") {
					continue
				}
				return fmt.Errorf("error ejecutando query en %s: %w", filename, err)
			}
		}
	}
	return nil
}
