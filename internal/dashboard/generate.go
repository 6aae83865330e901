// Package dashboard renders Grafana dashboards for the GreptimeDB tables the
// recorder writes.
package dashboard

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"droneops-ctl/internal/config"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

// DatasourceEnv names the variable holding the Grafana datasource UID.
const DatasourceEnv = "GREPTIMEDB_DATASOURCE_UID"

// Render parses dashboard templates and writes rendered dashboards to outDir.
// Table and database names come from cfg.
func Render(outDir string, cfg config.GreptimeSettings) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}

	names, err := fs.Glob(templates, "templates/*.json.tmpl")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, name := range names {
		t, err := template.New(filepath.Base(name)).Funcs(funcMap).ParseFS(templates, name)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(name), ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, cfg); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", filepath.Base(name), err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
