// Package vault writes meeting notes into an Obsidian vault directory.
// Notes are never overwritten: a taken name gets a " (n)" suffix.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/agentworkforce/meetsync/internal/fireflies"
)

const (
	DefaultFolder         = "Fireflies"
	DefaultMaxTitleLength = 50
	noteExt               = ".md"
	untitledBaseName      = "Untitled-Meeting"
	maxSuffixProbe        = 10000
)

type Logger interface {
	Printf(format string, args ...any)
}

type WriterOptions struct {
	VaultPath      string
	Folder         string
	MaxTitleLength int
	Renderer       *Renderer
	Logger         Logger
}

type Writer struct {
	dir      string
	maxTitle int
	renderer *Renderer
	logger   Logger
	now      func() time.Time
}

func NewWriter(opts WriterOptions) (*Writer, error) {
	root := strings.TrimSpace(opts.VaultPath)
	if root == "" {
		return nil, errors.New("vault path is required")
	}
	folder := strings.TrimSpace(opts.Folder)
	if folder == "" {
		folder = DefaultFolder
	}
	maxTitle := opts.MaxTitleLength
	if maxTitle <= 0 {
		maxTitle = DefaultMaxTitleLength
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = NewRenderer()
	}
	return &Writer{
		dir:      filepath.Join(root, folder),
		maxTitle: maxTitle,
		renderer: renderer,
		logger:   opts.Logger,
		now:      time.Now,
	}, nil
}

// Dir is the folder notes are written to.
func (w *Writer) Dir() string {
	return w.dir
}

// CreateNote renders d and stores it under a free name, returning the path.
func (w *Writer) CreateNote(d *fireflies.MeetingDetail) (string, error) {
	if d == nil {
		return "", errors.New("create note: nil meeting")
	}
	content, err := w.renderer.Render(d)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create notes folder: %w", err)
	}
	base := w.BaseName(d)
	path, err := writeUnique(w.dir, base, []byte(content))
	if err != nil {
		return "", fmt.Errorf("write note for meeting %s: %w", d.ID, err)
	}
	if filepath.Base(path) != base+noteExt {
		w.logf("note %s already exists, wrote %s", base+noteExt, filepath.Base(path))
	}
	return path, nil
}

// BaseName is the file name without extension: start time in UTC followed by
// the sanitized title.
func (w *Writer) BaseName(d *fireflies.MeetingDetail) string {
	start := d.StartTime()
	if start.IsZero() {
		start = w.now()
	}
	return start.UTC().Format("2006-01-02-15-04") + "-" + SanitizeTitle(d.Title, w.maxTitle)
}

// SanitizeTitle strips characters that are illegal in file names, turns
// whitespace runs into single dashes and caps the result at maxRunes.
func SanitizeTitle(title string, maxRunes int) string {
	var b strings.Builder
	space := false
	for _, r := range title {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r) && !unicode.IsSpace(r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		}
		if space {
			b.WriteRune('-')
			space = false
		}
		b.WriteRune(r)
	}
	cleaned := collapseDashes(b.String())
	cleaned = strings.Trim(cleaned, "-. ")
	if maxRunes > 0 {
		if runes := []rune(cleaned); len(runes) > maxRunes {
			cleaned = strings.TrimRight(string(runes[:maxRunes]), "-. ")
		}
	}
	if cleaned == "" {
		return untitledBaseName
	}
	return cleaned
}

func collapseDashes(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		if r == '-' {
			if prevDash {
				continue
			}
			prevDash = true
		} else {
			prevDash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func candidateName(base string, n int) string {
	if n == 0 {
		return base + noteExt
	}
	return fmt.Sprintf("%s (%d)%s", base, n, noteExt)
}

// writeUnique stages content in a temp file, then hard-links it to the first
// free candidate name. Link fails on an existing name, so a concurrent writer
// can never be overwritten.
func writeUnique(dir, base string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".meetsync-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	for n := 0; n < maxSuffixProbe; n++ {
		target := filepath.Join(dir, candidateName(base, n))
		if _, err := os.Lstat(target); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		err := os.Link(tmpName, target)
		if err == nil {
			return target, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		// Filesystems without hard links fall back to an exclusive create.
		created, createErr := createExclusive(target, content)
		if createErr == nil {
			return created, nil
		}
		if errors.Is(createErr, fs.ErrExist) {
			continue
		}
		return "", fmt.Errorf("link %s: %w", target, err)
	}
	return "", fmt.Errorf("no free file name for %s after %d attempts", base, maxSuffixProbe)
}

func createExclusive(path string, content []byte) (string, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

func (w *Writer) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
