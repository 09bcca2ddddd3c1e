package httpx

import (
	"strconv"

	"dqx0.com/go/httpd/httpx/internal/http1"
)

// Response is a fully buffered response. It is built per request,
// serialized once and dropped.
type Response struct {
	StatusCode int
	Header     Header
	Body       []byte
}

// appendTo serializes r, setting Content-Length from the body.
func (r *Response) appendTo(dst []byte) []byte {
	if r.Header == nil {
		r.Header = Header{}
	}
	r.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return http1.AppendResponse(dst, r.StatusCode, "", r.Header, r.Body)
}

// errorResponse builds a plain-text response. The body never carries more
// than msg.
func errorResponse(status int, msg string) *Response {
	if msg == "" {
		msg = strconv.Itoa(status) + " " + http1.StatusText(status)
	}
	return &Response{
		StatusCode: status,
		Header:     Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte(msg + "\n"),
	}
}

// Error replies to the request with a plain-text status message.
func Error(w ResponseWriter, status int, msg string) {
	r := errorResponse(status, msg)
	for k, vv := range r.Header {
		w.Header()[k] = vv
	}
	w.WriteHeader(status)
	w.Write(r.Body)
}

// StatusText returns the reason phrase used on the status line.
func StatusText(code int) string { return http1.StatusText(code) }
