package httpx

import (
	"errors"
	"net/netip"
	"path"
	"strings"

	"dqx0.com/go/httpd/internal/access"
	"dqx0.com/go/httpd/internal/obs"
	"dqx0.com/go/httpd/internal/static"
)

// FileServer answers GET requests with files below Root.
//
// Routing, in order: a missing Host header or an empty method is a 400;
// methods other than GET get 405; a path that climbs above the root is
// answered with 404 so traversal attempts look like any missing file; a
// path naming a dotfile (the rule file among them) is a 404 as well; a path
// denied by a path rule gets 403 with the rule's reason; everything else is
// read from disk, and any read failure becomes 404. Rules and the disk both
// see the same cleaned path.
type FileServer struct {
	Root   *static.Root
	Rules  *access.RuleList
	Logger obs.Logger
}

func (fs *FileServer) ServeHTTP(w ResponseWriter, r *Request) {
	if r.Host == "" || r.Method == "" {
		Error(w, 400, "")
		return
	}
	if r.Method != "GET" {
		w.Header().Set("Allow", "GET")
		Error(w, 405, "")
		return
	}
	if r.URL == nil {
		Error(w, 400, "")
		return
	}
	if !IsSafePath(r.URL.Path) {
		fs.logf(obs.Warn, "req=%s traversal attempt %q from %s", r.RequestID, r.RequestURI, r.RemoteAddr)
		Error(w, 404, "")
		return
	}
	p := path.Clean("/" + r.URL.Path)
	if hidden(p) {
		fs.logf(obs.Info, "req=%s hidden path %q", r.RequestID, p)
		Error(w, 404, "")
		return
	}
	if v := fs.Rules.Evaluate(netip.Addr{}, p); !v.Permitted {
		fs.logf(obs.Info, "req=%s path %q denied: %s", r.RequestID, p, v.Reason)
		Error(w, 403, v.Reason)
		return
	}
	f, err := fs.Root.Open(p)
	if err != nil {
		level := obs.Debug
		if errors.Is(err, static.ErrUnreadable) {
			level = obs.Warn
		}
		fs.logf(level, "req=%s open: %v", r.RequestID, err)
		Error(w, 404, "")
		return
	}
	h := w.Header()
	h.Set("Content-Type", f.ContentType)
	h.Set("Last-Modified", f.LastModified())
	w.WriteHeader(200)
	w.Write(f.Data)
}

func (fs *FileServer) logf(level obs.Level, format string, args ...interface{}) {
	lg := fs.Logger
	if lg == nil {
		lg = obs.NopLogger{}
	}
	lg.Logf(level, format, args...)
}

// hidden reports whether any segment of the cleaned path p starts with a dot.
func hidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
