package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/internal/filestore"
)

type FileResult struct {
	Path   string
	Stored string
	Err    string
}

type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

// SubmitDirectory walks root, skips hidden entries if requested, and submits
// every file the gateway allows. Per-file failures are recorded and the walk
// continues.
func (g *Gateway) SubmitDirectory(ctx context.Context, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && filestore.IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !g.Allowed(path) {
			return nil
		}
		stats.Matched++

		stored, err := g.submitFile(ctx, path)
		if err != nil {
			results = append(results, FileResult{Path: path, Stored: stored, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, FileResult{Path: path, Stored: stored})
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

func (g *Gateway) submitFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return g.Submit(ctx, filepath.Base(path), f)
}
