package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// ErrClaimed means another run already holds the artifact.
var ErrClaimed = errors.New("artifact already claimed")

// Hidden names in the pending area. The artifact name stays at the end so
// its extension still selects the renderer.
const (
	claimPrefix    = ".claim."
	unqueuedPrefix = ".unqueued."
)

// decidedAreas are the outcomes that can be recorded next to an artifact.
var decidedAreas = []constants.Area{constants.AreaProcessed, constants.AreaUnprocessed}

func (l Layout) claimPath(name string) string {
	return filepath.Join(l.Pending, claimPrefix+name)
}

func decidedPrefix(area constants.Area) string {
	return "." + string(area) + "."
}

func (l Layout) decidedPath(name string, area constants.Area) string {
	return filepath.Join(l.Pending, decidedPrefix(area)+name)
}

func (l Layout) unqueuedPath(name string) string {
	return filepath.Join(l.Pending, unqueuedPrefix+name)
}

func (l Layout) pendingForms(name string) []string {
	forms := []string{l.PendingPath(name), l.claimPath(name)}
	for _, area := range decidedAreas {
		forms = append(forms, l.decidedPath(name, area))
	}
	return forms
}

// ClaimedPath is where a claimed artifact is read from.
func (l Layout) ClaimedPath(name string) string {
	return l.claimPath(name)
}

// Claim takes a waiting artifact for exactly one run. It returns "" when the
// artifact was claimed now. When an earlier run already recorded an outcome
// but could not relocate the artifact, Claim returns that outcome's area and
// only the move is left to do. ErrClaimed means a run holds the artifact,
// ErrArtifactMissing that it is gone.
func (l Layout) Claim(name string) (constants.Area, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	err := renameNoReplace(l.PendingPath(name), l.claimPath(name))
	switch {
	case err == nil:
		touch(l.claimPath(name))
		return "", nil
	case errors.Is(err, fs.ErrExist):
		return "", fmt.Errorf("%w: %s", ErrClaimed, name)
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("claim %s: %w", name, err)
	}

	for _, area := range decidedAreas {
		if exists(l.decidedPath(name, area)) {
			return area, nil
		}
	}
	if exists(l.claimPath(name)) {
		return "", fmt.Errorf("%w: %s", ErrClaimed, name)
	}
	return "", fmt.Errorf("%w: %s", ErrArtifactMissing, name)
}

// Decide records where a claimed artifact must go. After Decide a new run
// for the same name only retries the move.
func (l Layout) Decide(name string, area constants.Area) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if area != constants.AreaProcessed && area != constants.AreaUnprocessed {
		return fmt.Errorf("%w: %q", ErrUnknownArea, area)
	}
	dst := l.decidedPath(name, area)
	if err := renameNoReplace(l.claimPath(name), dst); err != nil {
		return fmt.Errorf("record outcome for %s: %w", name, err)
	}
	touch(dst)
	return nil
}

// Release hands a claimed artifact back to the waiting set.
func (l Layout) Release(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := renameNoReplace(l.claimPath(name), l.PendingPath(name)); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	return nil
}

// MarkUnqueued records that name was stored but never enqueued.
func (l Layout) MarkUnqueued(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	f, err := os.OpenFile(l.unqueuedPath(name), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("mark %s unqueued: %w", name, err)
	}
	return f.Close()
}

func (l Layout) ClearUnqueued(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := os.Remove(l.unqueuedPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Unqueued lists the names marked by MarkUnqueued, oldest mark first.
func (l Layout) Unqueued() ([]string, error) {
	marks, err := l.scan(unqueuedPrefix, time.Time{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(marks))
	for _, m := range marks {
		out = append(out, m.Name)
	}
	return out, nil
}

// StaleClaims lists claimed artifacts untouched since cutoff, oldest first.
// They belong to runs that died before reaching an outcome.
func (l Layout) StaleClaims(cutoff time.Time) ([]PendingArtifact, error) {
	return l.scan(claimPrefix, cutoff)
}

// scan returns pending entries whose name starts with prefix, with the
// prefix stripped. A zero cutoff matches every age.
func (l Layout) scan(prefix string, cutoff time.Time) ([]PendingArtifact, error) {
	entries, err := os.ReadDir(l.Pending)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.Pending, err)
	}
	var out []PendingArtifact
	for _, e := range entries {
		name, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok || e.IsDir() || !ValidName(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		if !cutoff.IsZero() && !info.ModTime().Before(cutoff) {
			continue
		}
		out = append(out, PendingArtifact{Name: name, Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.Before(out[j].ModTime) })
	return out, nil
}

// touch restamps p so its age counts from the last state change.
func touch(p string) {
	now := time.Now()
	_ = os.Chtimes(p, now, now)
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
