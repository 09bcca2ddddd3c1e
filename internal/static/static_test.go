package static

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestOpen_File(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "index.html", "hi")
	mt := time.Date(2024, time.March, 5, 7, 8, 9, 0, time.UTC)
	if err := os.Chtimes(p, mt, mt); err != nil {
		t.Fatal(err)
	}
	r := &Root{Dir: dir}
	f, err := r.Open("/index.html")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(f.Data) != "hi" {
		t.Fatalf("data=%q", f.Data)
	}
	if f.ContentType != "text/html; charset=utf-8" {
		t.Fatalf("content type=%q", f.ContentType)
	}
	if got := f.LastModified(); got != "Tue Mar  5 07:08:09 2024" {
		t.Fatalf("Last-Modified=%q", got)
	}
	if strings.HasSuffix(f.LastModified(), "\n") {
		t.Fatal("Last-Modified must not end in a newline")
	}
}

func TestOpen_DirectoryIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "docs/index.html", "docs")
	r := &Root{Dir: dir}
	f, err := r.Open("/docs/")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(f.Data) != "docs" || f.Name != "/docs/index.html" {
		t.Fatalf("file=%+v", f)
	}
	if _, err := r.Open("/"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("root without index err=%v", err)
	}
}

func TestOpen_NotFound(t *testing.T) {
	r := &Root{Dir: t.TempDir()}
	if _, err := r.Open("/missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestOpen_StaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	writeFile(t, parent, "secret", "top secret")
	root := filepath.Join(parent, "www")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	r := &Root{Dir: root}
	f, err := r.Open("/../secret")
	if err == nil {
		t.Fatalf("escaped root: %q", f.Data)
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"/a.HTML":        "text/html; charset=utf-8",
		"/img/x.jpeg":    "image/jpeg",
		"/style.css":     "text/css",
		"/noext":         DefaultType,
		"/dir.d/file":    DefaultType,
		"/archive.xyz":   DefaultType,
		"/script.min.js": "application/javascript",
	}
	for name, want := range cases {
		if got, _ := ContentType(name); got != want {
			t.Errorf("ContentType(%q)=%q want %q", name, got, want)
		}
	}
}

func TestOpen_SniffUnknown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page.unknown", "<!DOCTYPE html><html><body>x</body></html>")
	r := &Root{Dir: dir}
	f, err := r.Open("/page.unknown")
	if err != nil {
		t.Fatal(err)
	}
	if f.ContentType != DefaultType {
		t.Fatalf("without sniffing content type=%q", f.ContentType)
	}
	r.SniffUnknown = true
	f, err = r.Open("/page.unknown")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(f.ContentType, "text/html") {
		t.Fatalf("sniffed content type=%q", f.ContentType)
	}
}

func TestOpen_SymlinkOutsideRoot(t *testing.T) {
	parent := t.TempDir()
	secret := writeFile(t, parent, "secret", "top secret")
	root := filepath.Join(parent, "www")
	writeFile(t, root, "inner.txt", "inner")
	if err := os.Symlink(secret, filepath.Join(root, "leak")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink("inner.txt", filepath.Join(root, "alias.txt")); err != nil {
		t.Fatal(err)
	}

	r := &Root{Dir: root}
	if f, err := r.Open("/leak"); err == nil {
		t.Fatalf("symlink escaped root: %q", f.Data)
	}
	f, err := r.Open("/alias.txt")
	if err != nil || string(f.Data) != "inner" {
		t.Fatalf("symlink inside root: %v", err)
	}
}
