package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// maxNameAttempts bounds the numbered variants tried for a taken filename.
const maxNameAttempts = 1000

// DefaultDownloadDir returns the user's XDG download directory.
func DefaultDownloadDir() string {
	if xdg.UserDirs.Download != "" {
		return xdg.UserDirs.Download
	}
	return filepath.Join(xdg.Home, "Downloads")
}

// FileSaver writes downloads into a directory without overwriting existing
// files.
type FileSaver struct {
	dir string
	out io.Writer
}

// NewFileSaver creates a FileSaver. An empty dir uses DefaultDownloadDir.
// Saved paths are reported on out when it is non-nil.
func NewFileSaver(dir string, out io.Writer) *FileSaver {
	if dir == "" {
		dir = DefaultDownloadDir()
	}
	return &FileSaver{dir: dir, out: out}
}

// Dir returns the target directory.
func (s *FileSaver) Dir() string {
	return s.dir
}

// Save writes blob as filename, or as "name (n).ext" when it is taken.
func (s *FileSaver) Save(_ context.Context, blob []byte, filename, _ string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("terminal: create %s: %w", s.dir, err)
	}

	name := SafeFilename(filename)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(s.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("terminal: create %s: %w", path, err)
		}
		if _, err := f.Write(blob); err != nil {
			f.Close()
			return fmt.Errorf("terminal: write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("terminal: close %s: %w", path, err)
		}
		if s.out != nil {
			fmt.Fprintf(s.out, "saved %s (%d bytes)\n", path, len(blob))
		}
		return nil
	}
	return fmt.Errorf("terminal: no free name for %s in %s", name, s.dir)
}

// SafeFilename strips directory components from a server-provided name.
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "download"
	}
	return name
}
