package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

var (
	// ErrArtifactMissing means the artifact is not in the pending area.
	ErrArtifactMissing = errors.New("artifact not found in pending area")
	// ErrInvalidName means the name is not a plain file name.
	ErrInvalidName = errors.New("invalid artifact name")
	// ErrUnknownArea means the area is not one of the three storage areas.
	ErrUnknownArea = errors.New("unknown storage area")
)

const maxRenameAttempts = 8

// Layout is the three disjoint directories an artifact moves through.
type Layout struct {
	Pending     string
	Processed   string
	Unprocessed string
}

func NewLayout(pending, processed, unprocessed string) Layout {
	return Layout{Pending: pending, Processed: processed, Unprocessed: unprocessed}
}

// Init creates all three areas. It is idempotent and reports every
// directory it could not create instead of stopping at the first.
func (l Layout) Init() error {
	var errs []error
	for _, area := range constants.Areas {
		dir, _ := l.Dir(area)
		if dir == "" {
			errs = append(errs, fmt.Errorf("%s: empty path", area))
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", area, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("init storage areas: %w", errors.Join(errs...))
	}
	return nil
}

// Dir returns the directory backing area.
func (l Layout) Dir(area constants.Area) (string, error) {
	switch area {
	case constants.AreaPending:
		return l.Pending, nil
	case constants.AreaProcessed:
		return l.Processed, nil
	case constants.AreaUnprocessed:
		return l.Unprocessed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownArea, area)
}

// ValidName reports whether name is a plain file name that cannot escape an area.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}

// PendingPath is where the named artifact waits for processing.
func (l Layout) PendingPath(name string) string {
	return filepath.Join(l.Pending, name)
}

// Locate returns every area currently holding name. An artifact that is
// claimed or awaiting relocation still counts as pending.
func (l Layout) Locate(name string) []constants.Area {
	var out []constants.Area
	if !ValidName(name) {
		return out
	}
	if ok, _ := l.InPending(name); ok {
		out = append(out, constants.AreaPending)
	}
	for _, area := range []constants.Area{constants.AreaProcessed, constants.AreaUnprocessed} {
		dir, _ := l.Dir(area)
		if _, err := os.Lstat(filepath.Join(dir, name)); err == nil {
			out = append(out, area)
		}
	}
	return out
}

// InPending reports whether the artifact is in the pending area in any of
// its forms: waiting, claimed, or decided but not yet relocated.
func (l Layout) InPending(name string) (bool, error) {
	if !ValidName(name) {
		return false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, p := range l.pendingForms(name) {
		_, err := os.Lstat(p)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}

// Move relocates a pending artifact into area and returns the name it now
// has there. The source is the artifact's decided form for area if there is
// one, else its claimed form, else the plain pending file. Within one
// filesystem this is a hard link plus unlink, so an existing file in the
// destination is never overwritten: on a clash the artifact gets a
// "-<suffix>" before its extension. When the areas live on different
// devices the file is first copied to a synced hidden temp file in the
// destination and only removed from pending once it is in place.
func (l Layout) Move(name string, area constants.Area) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if area == constants.AreaPending {
		return "", fmt.Errorf("%w: cannot move into %s", ErrUnknownArea, area)
	}
	dstDir, err := l.Dir(area)
	if err != nil {
		return "", err
	}

	src, err := l.source(name, area)
	if err != nil {
		return "", err
	}

	final, err := placeNoClobber(src, dstDir, name)
	if err == nil {
		return final, nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		if errors.Is(err, fs.ErrNotExist) {
			if _, statErr := os.Lstat(src); errors.Is(statErr, fs.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", ErrArtifactMissing, name)
			}
		}
		return "", err
	}

	tmp, err := copyToTemp(src, dstDir)
	if err != nil {
		return "", err
	}
	final, err = placeNoClobber(tmp, dstDir, name)
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return final, fmt.Errorf("remove %s after copy: %w", src, err)
	}
	return final, nil
}

// source picks the file Move should relocate.
func (l Layout) source(name string, area constants.Area) (string, error) {
	for _, p := range []string{l.decidedPath(name, area), l.claimPath(name), l.PendingPath(name)} {
		_, err := os.Lstat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrArtifactMissing, name)
}

// placeNoClobber moves src into dir under name, or a suffixed variant when
// name is taken, and returns the name used.
func placeNoClobber(src, dir, name string) (string, error) {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxRenameAttempts; i++ {
		err := renameNoReplace(src, filepath.Join(dir, candidate))
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		candidate = stem + "-" + uuid.NewString()[:8] + ext
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}

// renameNoReplace renames src to dst, failing with fs.ErrExist instead of
// replacing dst. It links then unlinks; on filesystems without hard links
// it falls back to a checked rename.
func renameNoReplace(src, dst string) error {
	err := os.Link(src, dst)
	switch {
	case err == nil:
		if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("unlink %s: %w", src, err)
		}
		return nil
	case errors.Is(err, fs.ErrExist), errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.EXDEV):
		return err
	}
	if _, statErr := os.Lstat(dst); statErr == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrExist}
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", src, dst, err)
	}
	return nil
}

// copyToTemp copies src into a synced hidden temp file in dir and returns
// its path.
func copyToTemp(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ".move-*")
	if err != nil {
		return "", fmt.Errorf("create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close %s: %w", tmpName, err)
	}
	return tmpName, nil
}

// Store writes r into the pending area under name. The content lands in a
// hidden temp file first so the artifact only ever appears complete. It
// returns the number of bytes written.
func (l Layout) Store(name string, r io.Reader) (int64, error) {
	if !ValidName(name) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dst := l.PendingPath(name)
	if _, err := os.Lstat(dst); err == nil {
		return 0, fmt.Errorf("%s: %w", name, fs.ErrExist)
	}

	tmp, err := os.CreateTemp(l.Pending, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = renameNoReplace(tmpName, dst)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("store %s: %w", name, err)
	}
	return n, nil
}

// Remove deletes a pending artifact. Missing files are not an error.
func (l Layout) Remove(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := os.Remove(l.PendingPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// PendingArtifact describes a file waiting in the pending area.
type PendingArtifact struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ListPending returns visible pending artifacts last modified before
// cutoff, oldest first. Hidden files (in-flight uploads) are skipped.
func (l Layout) ListPending(cutoff time.Time) ([]PendingArtifact, error) {
	entries, err := os.ReadDir(l.Pending)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.Pending, err)
	}
	var out []PendingArtifact
	for _, e := range entries {
		if e.IsDir() || IsHidden(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		if !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		out = append(out, PendingArtifact{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.Before(out[j].ModTime) })
	return out, nil
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
