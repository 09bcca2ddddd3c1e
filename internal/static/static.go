// Package static reads files below a document root for the server.
package static

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrNotFound   = errors.New("static: not found")
	ErrUnreadable = errors.New("static: unreadable")
)

const (
	DefaultIndexFile = "index.html"
	DefaultType      = "application/octet-stream"

	// LastModifiedLayout is the asctime layout without the trailing newline.
	LastModifiedLayout = "Mon Jan _2 15:04:05 2006"
)

var contentTypes = map[string]string{
	"html": "text/html; charset=utf-8",
	"htm":  "text/html; charset=utf-8",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"ico":  "image/x-icon",
	"svg":  "image/svg+xml",
	"js":   "application/javascript",
	"xml":  "application/xml",
	"css":  "text/css",
	"txt":  "text/plain",
	"json": "application/json",
	"pdf":  "application/pdf",
	"wasm": "application/wasm",
	"webp": "image/webp",
	"mp4":  "video/mp4",
}

// File is a successfully read file.
type File struct {
	Name        string // path relative to the root, slash separated
	Data        []byte
	ModTime     time.Time
	ContentType string
}

// LastModified formats the modification time for the Last-Modified header.
func (f *File) LastModified() string {
	return f.ModTime.UTC().Format(LastModifiedLayout)
}

// Root serves files from Dir.
type Root struct {
	Dir       string
	IndexFile string // defaults to index.html
	// SniffUnknown detects the content type from the file's bytes when the
	// extension is not in the table, instead of using DefaultType.
	SniffUnknown bool
}

// Open reads the file named by the slash-separated urlPath. The path must
// already be checked for traversal; Open cleans it again and resolves it
// through os.Root, so neither a stray ".." nor a symlink can leave Dir.
// Every failure is ErrNotFound or ErrUnreadable.
func (r *Root) Open(urlPath string) (*File, error) {
	rel := path.Clean("/" + urlPath)
	rt, err := os.OpenRoot(r.Dir)
	if err != nil {
		return nil, classify(rel, err)
	}
	defer rt.Close()

	name := relName(rel)
	fi, err := rt.Stat(name)
	if err != nil {
		return nil, classify(rel, err)
	}
	if fi.IsDir() {
		rel = path.Join(rel, r.indexFile())
		name = relName(rel)
		if fi, err = rt.Stat(name); err != nil {
			return nil, classify(rel, err)
		}
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, rel)
	}
	data, err := rt.ReadFile(name)
	if err != nil {
		return nil, classify(rel, err)
	}
	return &File{
		Name:        rel,
		Data:        data,
		ModTime:     fi.ModTime(),
		ContentType: r.contentType(rel, data),
	}, nil
}

// relName turns a cleaned absolute URL path into an os.Root name.
func relName(rel string) string {
	if rel == "/" {
		return "."
	}
	return filepath.FromSlash(strings.TrimPrefix(rel, "/"))
}

func (r *Root) indexFile() string {
	if r.IndexFile == "" {
		return DefaultIndexFile
	}
	return r.IndexFile
}

func (r *Root) contentType(name string, data []byte) string {
	if ct, ok := ContentType(name); ok {
		return ct
	}
	if r.SniffUnknown {
		return mimetype.Detect(data).String()
	}
	return DefaultType
}

// ContentType looks the file extension up in the built-in table.
func ContentType(name string) (string, bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || strings.ContainsRune(name[i:], '/') {
		return DefaultType, false
	}
	ct, ok := contentTypes[strings.ToLower(name[i+1:])]
	if !ok {
		return DefaultType, false
	}
	return ct, true
}

func classify(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreadable, name, err)
}
