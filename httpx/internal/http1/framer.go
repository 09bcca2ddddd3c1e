package http1

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

var (
	ErrNoRequest                   = errors.New("http1: no complete request")
	ErrMalformedRequestLine        = errors.New("http1: malformed request line")
	ErrMalformedHeader             = errors.New("http1: malformed header line")
	ErrHeaderTooLarge              = errors.New("http1: header block too large")
	ErrBadContentLength            = errors.New("http1: invalid Content-Length")
	ErrBodyTooLarge                = errors.New("http1: body too large")
	ErrUnsupportedTransferEncoding = errors.New("http1: Transfer-Encoding not supported")
)

const (
	DefaultMaxHeaderBytes       = 8 << 10
	DefaultMaxBodyBytes   int64 = 1 << 20
)

// ParsedRequest is a minimal representation parsed from the wire.
// Header keys are kept exactly as received.
type ParsedRequest struct {
	Method        string
	RequestURI    string
	Proto         string
	Header        map[string][]string
	ContentLength int64
	Body          []byte
}

// Framer assembles requests from arbitrary-sized chunks of a byte stream.
// Complete requests are queued in arrival order; bytes of a partial request
// stay buffered until the rest arrives. A framing error is sticky: requests
// framed before it can still be popped, nothing after it is parsed.
//
// A Framer is owned by a single connection and is not safe for concurrent use.
type Framer struct {
	MaxHeaderBytes int
	MaxBodyBytes   int64

	buf   []byte
	off   int // start of the first unparsed byte in buf
	queue []*ParsedRequest
	err   error
}

func NewFramer(maxHeaderBytes int, maxBodyBytes int64) *Framer {
	return &Framer{MaxHeaderBytes: maxHeaderBytes, MaxBodyBytes: maxBodyBytes}
}

// Push appends p to the receive buffer and frames every request it
// completes. An empty push is a no-op.
func (f *Framer) Push(p []byte) {
	if len(p) == 0 || f.err != nil {
		return
	}
	f.buf = append(f.buf, p...)
	for {
		// Empty lines ahead of a request line are ignored (RFC 9112
		// section 2.2) and consumed so they never accumulate.
		for f.off < len(f.buf) && (f.buf[f.off] == '\r' || f.buf[f.off] == '\n') {
			f.off++
		}
		pr, n, err := f.parse(f.buf[f.off:])
		if err != nil {
			f.err = err
			break
		}
		if pr == nil {
			break
		}
		f.queue = append(f.queue, pr)
		f.off += n
	}
	f.compact()
}

// HasComplete reports whether PopRequest has a request to return.
func (f *Framer) HasComplete() bool { return len(f.queue) > 0 }

// PopRequest removes and returns the oldest complete request.
func (f *Framer) PopRequest() (*ParsedRequest, error) {
	if len(f.queue) == 0 {
		return nil, ErrNoRequest
	}
	pr := f.queue[0]
	f.queue[0] = nil
	f.queue = f.queue[1:]
	return pr, nil
}

// Err returns the framing error, if any.
func (f *Framer) Err() error { return f.err }

// Buffered returns the number of bytes held for a not yet complete request.
func (f *Framer) Buffered() int { return len(f.buf) - f.off }

func (f *Framer) compact() {
	switch {
	case f.off == len(f.buf):
		f.buf = f.buf[:0]
		f.off = 0
	case f.off > 0 && f.off >= len(f.buf)/2:
		n := copy(f.buf, f.buf[f.off:])
		f.buf = f.buf[:n]
		f.off = 0
	}
}

func (f *Framer) headerLimit() int {
	if f.MaxHeaderBytes <= 0 {
		return DefaultMaxHeaderBytes
	}
	return f.MaxHeaderBytes
}

func (f *Framer) bodyLimit() int64 {
	if f.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return f.MaxBodyBytes
}

// parse frames one request at the start of b, which Push has already
// advanced past any leading empty lines. It returns (nil, 0, nil) when
// b does not yet hold a complete request, otherwise the request and the
// number of bytes it occupied.
func (f *Framer) parse(b []byte) (*ParsedRequest, int, error) {
	limit := f.headerLimit()

	var lines []string
	pos := 0
	for {
		i := bytes.IndexByte(b[pos:], '\n')
		if i < 0 {
			if len(b) > limit {
				return nil, 0, ErrHeaderTooLarge
			}
			return nil, 0, nil
		}
		line := b[pos : pos+i]
		pos += i + 1
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if len(line) == 0 {
			break
		}
		lines = append(lines, string(line))
	}
	if pos > limit {
		return nil, 0, ErrHeaderTooLarge
	}

	pr, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, 0, err
	}
	pr.Header, err = parseHeaders(lines[1:])
	if err != nil {
		return nil, 0, err
	}
	if _, ok := lookup(pr.Header, "Transfer-Encoding"); ok {
		return nil, 0, ErrUnsupportedTransferEncoding
	}
	cl, err := contentLength(pr.Header)
	if err != nil {
		return nil, 0, err
	}
	if cl > f.bodyLimit() {
		return nil, 0, ErrBodyTooLarge
	}
	if int64(len(b)-pos) < cl {
		return nil, 0, nil
	}
	pr.ContentLength = cl
	if cl > 0 {
		pr.Body = append([]byte(nil), b[pos:pos+int(cl)]...)
	}
	return pr, pos + int(cl), nil
}

func parseRequestLine(line string) (*ParsedRequest, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, ErrMalformedRequestLine
	}
	method, uri, proto := parts[0], parts[1], parts[2]
	if uri == "" || !strings.HasPrefix(proto, "HTTP/1.") || len(proto) != len("HTTP/1.1") {
		return nil, ErrMalformedRequestLine
	}
	if method != "" && SanitizeHeaderKey(method) == "" {
		return nil, ErrMalformedRequestLine
	}
	return &ParsedRequest{Method: method, RequestURI: uri, Proto: proto}, nil
}

func parseHeaders(lines []string) (map[string][]string, error) {
	h := make(map[string][]string, len(lines))
	for _, line := range lines {
		// obsolete line folding
		if line[0] == ' ' || line[0] == '\t' {
			return nil, ErrMalformedHeader
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, ErrMalformedHeader
		}
		k := line[:i]
		if SanitizeHeaderKey(k) == "" {
			return nil, ErrMalformedHeader
		}
		v := strings.TrimSpace(line[i+1:])
		h[k] = append(h[k], v)
	}
	return h, nil
}

func contentLength(h map[string][]string) (int64, error) {
	vv, ok := lookup(h, "Content-Length")
	if !ok {
		return 0, nil
	}
	n := int64(-1)
	for _, v := range vv {
		for _, s := range strings.Split(v, ",") {
			m, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil || m < 0 {
				return 0, ErrBadContentLength
			}
			if n >= 0 && m != n {
				return 0, ErrBadContentLength
			}
			n = m
		}
	}
	return n, nil
}

// lookup finds a header case-insensitively, merging keys that differ only in
// case in the order the map yields them.
func lookup(h map[string][]string, key string) ([]string, bool) {
	var out []string
	found := false
	for k, vv := range h {
		if strings.EqualFold(k, key) {
			out = append(out, vv...)
			found = true
		}
	}
	return out, found
}
