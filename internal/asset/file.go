package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"photo-scanner/internal/logging"

	"github.com/h2non/filetype"
	"github.com/spf13/afero"
)

// sniffHeaderSize is enough for filetype to recognise every image format it
// supports.
const sniffHeaderSize = 262

// ImageExtensions maps file extensions to whether they are supported image formats.
var ImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tiff": true, ".tif": true,
	".heic": true, ".heif": true, ".avif": true,
}

var errStopWalk = errors.New("stop walk")

// FileItem is an image file below a FileSource root.
type FileItem struct {
	fs    afero.Fs
	id    string
	path  string
	local bool
}

// ID returns the slash-separated path relative to the source root.
func (f *FileItem) ID() string { return f.id }

// Open opens the file for reading.
func (f *FileItem) Open() (io.ReadCloser, error) {
	return f.fs.Open(f.path)
}

// LocalPath returns the operating system path of the file when the item is
// backed by the real filesystem.
func (f *FileItem) LocalPath() (string, bool) {
	return f.path, f.local
}

// FileSource is a Source over image files in a directory tree. Hidden files
// and directories are skipped; files are enumerated in lexical order.
type FileSource struct {
	fs   afero.Fs
	root string
}

// NewFileSource creates a FileSource rooted at root on fs.
func NewFileSource(fs afero.Fs, root string) *FileSource {
	return &FileSource{fs: fs, root: filepath.Clean(root)}
}

// Root returns the directory the source enumerates.
func (s *FileSource) Root() string { return s.root }

// Count returns the number of image files below the root.
func (s *FileSource) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.Enumerate(ctx, func(Item) bool {
		n++
		return true
	})
	return n, err
}

// Enumerate walks the root and calls fn for every image file.
func (s *FileSource) Enumerate(ctx context.Context, fn func(Item) bool) error {
	err := afero.Walk(s.fs, s.root, func(p string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			logging.Warn("Error accessing path %s: %v", p, err)
			return nil
		}

		if p != s.root && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !s.accepts(p, info) {
			return nil
		}

		item, err := s.newItem(p)
		if err != nil {
			//nolint:nilerr // skip this file but keep walking
			return nil
		}
		if !fn(item) {
			return errStopWalk
		}
		return nil
	})

	if errors.Is(err, errStopWalk) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", s.root, err)
	}
	return nil
}

// FetchByIdentifiers resolves relative paths back to items. Identifiers that
// no longer exist, escape the root, or name files Enumerate would skip are
// dropped.
func (s *FileSource) FetchByIdentifiers(ctx context.Context, ids []string) ([]Item, error) {
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		clean := path.Clean("/" + id)[1:]
		if clean == "" || clean != id {
			logging.Debug("Skipping invalid identifier %q", id)
			continue
		}

		if hidden(clean) {
			logging.Debug("Skipping hidden identifier %q", id)
			continue
		}

		full := filepath.Join(s.root, filepath.FromSlash(clean))
		info, err := s.fs.Stat(full)
		if err != nil || !s.accepts(full, info) {
			logging.Debug("Identifier %q no longer resolves: %v", id, err)
			continue
		}

		item, err := s.newItem(full)
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *FileSource) newItem(full string) (*FileItem, error) {
	rel, err := filepath.Rel(s.root, full)
	if err != nil {
		return nil, err
	}
	_, local := s.fs.(*afero.OsFs)
	return &FileItem{
		fs:    s.fs,
		id:    filepath.ToSlash(rel),
		path:  full,
		local: local,
	}, nil
}

// accepts reports whether a file Enumerate reached is one it yields.
func (s *FileSource) accepts(full string, info os.FileInfo) bool {
	return info.Mode().IsRegular() && s.isImage(full)
}

// hidden reports whether any element of a slash-separated relative path
// starts with a dot.
func hidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// isImage accepts known image extensions. Files without an extension are
// sniffed; files with any other extension are rejected.
func (s *FileSource) isImage(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	if ext != "" {
		return ImageExtensions[ext]
	}

	f, err := s.fs.Open(p)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, sniffHeaderSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false
	}
	return filetype.IsImage(head[:n])
}
