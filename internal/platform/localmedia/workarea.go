package localmedia

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkArea is a scratch directory owned by one pipeline run.
type WorkArea struct {
	Dir string
}

const workAreaPrefix = "lifeprint_"

func workRoot(root string) string {
	if strings.TrimSpace(root) == "" {
		return os.TempDir()
	}
	return root
}

// NewWorkArea creates a fresh directory under root (os.TempDir when empty).
func NewWorkArea(root string, prefix string) (*WorkArea, error) {
	root, err := filepath.Abs(workRoot(root))
	if err != nil {
		return nil, fmt.Errorf("resolve work root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir work root: %w", err)
	}
	dir, err := os.MkdirTemp(root, workAreaPrefix+sanitize(prefix)+"_")
	if err != nil {
		return nil, fmt.Errorf("create work area: %w", err)
	}
	return &WorkArea{Dir: dir}, nil
}

// OpenWorkArea reattaches to a directory NewWorkArea created directly under root. It
// reports false when the directory is gone or is not a work area of root, so a path
// read back from a job payload can never point Cleanup elsewhere.
func OpenWorkArea(root, dir string) (*WorkArea, bool) {
	if strings.TrimSpace(dir) == "" || !filepath.IsAbs(dir) {
		return nil, false
	}
	dir = filepath.Clean(dir)
	rootAbs, err := filepath.Abs(workRoot(root))
	if err != nil {
		return nil, false
	}
	if filepath.Dir(dir) != filepath.Clean(rootAbs) || !strings.HasPrefix(filepath.Base(dir), workAreaPrefix) {
		return nil, false
	}
	st, err := os.Lstat(dir)
	if err != nil || !st.IsDir() {
		return nil, false
	}
	return &WorkArea{Dir: dir}, true
}

func (w *WorkArea) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Dir}, elem...)...)
}

func (w *WorkArea) WriteFile(name string, data []byte) (string, error) {
	p := w.Path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return p, nil
}

// Cleanup removes the directory. Safe to call more than once and on nil.
func (w *WorkArea) Cleanup() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "run"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
