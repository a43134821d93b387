// Command import loads patient JSON logs into Postgres. It is the recovery
// path when the monitor could not reach the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/wolfman30/patient-capture/internal/app/bootstrap"
	appconfig "github.com/wolfman30/patient-capture/internal/config"
	"github.com/wolfman30/patient-capture/internal/patient"
	"github.com/wolfman30/patient-capture/internal/store"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

type importer interface {
	Import(ctx context.Context, records []patient.Record, mode store.ConflictMode) (int, error)
}

func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()

	file := flag.String("file", cfg.PatientLogPath, "patient JSON file to import")
	dir := flag.String("dir", "", "import every *.json file in this directory instead of -file")
	onConflict := flag.String("on-conflict", string(store.ConflictIgnore), "existing rows: ignore or update")
	flag.Parse()

	logger := logging.New(cfg.LogLevel)
	mode, err := store.ParseConflictMode(*onConflict)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	files, err := inputFiles(*file, *dir)
	if err != nil {
		logger.Error("no input", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool := bootstrap.ConnectPostgres(ctx, cfg.DSN(), logger)
	if pool == nil {
		logger.Error("database unavailable; check DATABASE_URL or DB_* settings")
		os.Exit(1)
	}
	defer pool.Close()

	total, err := run(ctx, store.NewPostgresRepository(pool), files, mode, logger)
	if err != nil {
		logger.Error("import failed", "error", err, "rows", total)
		os.Exit(1)
	}
	fmt.Printf("imported %d rows from %d file(s)\n", total, len(files))
}

func inputFiles(file, dir string) ([]string, error) {
	if dir == "" {
		if file == "" {
			return nil, errors.New("no file given")
		}
		return []string{file}, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no json files in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

// run imports each file in turn. A file that fails to parse is skipped; a
// database error stops the run.
func run(ctx context.Context, dst importer, files []string, mode store.ConflictMode, logger *logging.Logger) (int, error) {
	normalizer := patient.NewNormalizer()
	total := 0
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable file", "path", path, "error", err)
			continue
		}
		records, err := store.DecodeRecords(raw, normalizer)
		if err != nil {
			logger.Warn("skipping invalid file", "path", path, "error", err)
			continue
		}
		n, err := dst.Import(ctx, records, mode)
		total += n
		if err != nil {
			return total, fmt.Errorf("import %s: %w", path, err)
		}
		logger.Info("file imported", "path", path, "records", len(records), "rows", n, "on_conflict", mode)
	}
	return total, nil
}
