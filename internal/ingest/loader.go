package ingest

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"askdocs/internal/retrieval"
)

// DefaultMaxBytes bounds a single file, upload or page.
const DefaultMaxBytes = 50 << 20

// Loader reads local files into sources.
type Loader struct {
	MaxBytes int64
}

func NewLoader(maxBytes int64) *Loader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Loader{MaxBytes: maxBytes}
}

// LoadFile reads one file. The origin is the cleaned path.
func (l *Loader) LoadFile(path string) (retrieval.Source, error) {
	origin := filepath.Clean(path)
	format, err := FormatFor(origin, "")
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(origin, "unsupported file type", err)
	}

	f, err := os.Open(origin)
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(origin, "cannot open file", err)
	}
	defer f.Close()

	data, err := readLimited(f, l.MaxBytes)
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(origin, "cannot read file", err)
	}
	txt, err := Extract(format, data)
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(origin, "cannot extract text", err)
	}
	return retrieval.Source{Origin: origin, Kind: retrieval.KindPath, Text: txt}, nil
}

// LoadDir walks root and loads every supported file, in path order. Files that
// fail are reported alongside the sources that loaded.
func (l *Loader) LoadDir(root string) ([]retrieval.Source, []error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if Supported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, []error{retrieval.NewIngestError(root, "cannot walk directory", err)}
	}
	sort.Strings(paths)

	var (
		sources []retrieval.Source
		errs    []error
	)
	for _, p := range paths {
		src, err := l.LoadFile(p)
		if err != nil {
			slog.Warn("skipping file", "path", p, "error", err)
			errs = append(errs, err)
			continue
		}
		sources = append(sources, src)
	}
	return sources, errs
}

// ReadUpload converts an uploaded file. The origin is "upload:" plus the base
// file name.
func ReadUpload(name, contentType string, r io.Reader, maxBytes int64) (retrieval.Source, error) {
	origin := "upload:" + filepath.Base(name)
	format, err := FormatFor(name, contentType)
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(origin, "unsupported file type", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := readLimited(r, maxBytes)
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(origin, "cannot read upload", err)
	}
	txt, err := Extract(format, data)
	if err != nil {
		return retrieval.Source{}, retrieval.NewIngestError(origin, "cannot extract text", err)
	}
	return retrieval.Source{Origin: origin, Kind: retrieval.KindUpload, Text: txt}, nil
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, max)
	}
	return data, nil
}
