// Package files loads the pool of local files that seeded posts attach.
package files

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const sniffLen = 512

// Ref points at a file on disk. Refs are loaded once and never mutated.
type Ref struct {
	Path     string
	Name     string
	Size     int64
	MIMEType string
}

// Open returns a reader over the file contents.
func (r Ref) Open() (io.ReadCloser, error) {
	f, err := os.Open(r.Path) // #nosec G304 -- path comes from the configured directory listing
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.Name, err)
	}
	return f, nil
}

// Load lists the regular files directly under dir. Hidden files and
// subdirectories are skipped. An empty dir yields an empty pool.
func Load(dir string) ([]Ref, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read files dir %s: %w", dir, err)
	}
	refs := make([]Ref, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		mt, err := detectType(path)
		if err != nil {
			return nil, err
		}
		refs = append(refs, Ref{
			Path:     path,
			Name:     entry.Name(),
			Size:     info.Size(),
			MIMEType: mt,
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// TotalSize sums the sizes of refs.
func TotalSize(refs []Ref) int64 {
	var total int64
	for _, r := range refs {
		total += r.Size
	}
	return total
}

func detectType(path string) (string, error) {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt, nil
	}
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("sniff %s: %w", path, err)
	}
	return http.DetectContentType(buf[:n]), nil
}
