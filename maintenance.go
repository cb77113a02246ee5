package totalexport

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/kataras/total-export/pkg/ledger"
	"github.com/kataras/total-export/pkg/progress"
)

// Progress lists the projects recorded as exported under outputDir, sorted
// by hub and project.
func Progress(outputDir string) ([]progress.Key, error) {
	fs := osfs.New(outputDir)
	if _, err := progress.Read(fs, progress.FileName); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	store := progress.NewStore(fs, nil)
	store.Load()
	return store.Entries(), nil
}

// ResetProgress deletes the recorded progress under outputDir so that the
// next run starts over.
func ResetProgress(outputDir string) error {
	return progress.NewStore(osfs.New(outputDir), nil).Reset()
}

// History returns the most recent runs recorded in the ledger.
func History(ctx context.Context, outputDir, ledgerFile string, limit int) ([]ledger.Run, error) {
	path := ledgerPath(Options{OutputDir: outputDir, LedgerPath: ledgerFile})
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no ledger at %s (enable it with --ledger): %w", path, err)
	}

	store, err := ledger.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.Runs(ctx, limit)
}
