package httpx

import (
	"context"
	"net/netip"
	"net/url"
)

// Request is one framed request as seen by a Handler.
//
// URL is nil when the request target could not be parsed. Body holds the
// full Content-Length body.
type Request struct {
	Method        string
	URL           *url.URL
	RequestURI    string
	Proto         string
	Header        Header
	Body          []byte
	Host          string
	ContentLength int64
	// RemoteAddr is the peer address captured at accept time.
	RemoteAddr netip.AddrPort
	// RequestID is the server generated identifier for this request.
	RequestID string
	ctx       context.Context
}

// Context returns the request's context. If nil, returns Background.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func WithContext(r *Request, ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}
