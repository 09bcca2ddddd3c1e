package httpx

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dqx0.com/go/httpd/httpx/internal/http1"
	"dqx0.com/go/httpd/internal/access"
	"dqx0.com/go/httpd/internal/obs"
)

// conn owns one accepted connection from admission to close. Its framer,
// buffers and socket are touched by the serving goroutine only.
type conn struct {
	srv     *Server
	rwc     net.Conn
	id      string
	remote  netip.AddrPort
	framer  *http1.Framer
	verdict access.Verdict
	out     []byte
}

func (s *Server) newConn(rwc net.Conn) *conn {
	return &conn{
		srv:    s,
		rwc:    rwc,
		id:     genID(),
		remote: remoteAddrPort(rwc.RemoteAddr()),
		framer: http1.NewFramer(s.MaxHeaderBytes, s.MaxBodyBytes),
	}
}

func remoteAddrPort(a net.Addr) netip.AddrPort {
	if ta, ok := a.(*net.TCPAddr); ok {
		return ta.AddrPort()
	}
	if a == nil {
		return netip.AddrPort{}
	}
	ap, _ := netip.ParseAddrPort(a.String())
	return ap
}

func (c *conn) serve() {
	start := time.Now()
	requests := 0
	defer func() {
		c.rwc.Close()
		c.srv.logf(obs.Debug, "conn=%s closed after %d requests in %v", c.id, requests, time.Since(start))
	}()

	c.verdict = c.srv.Rules.Evaluate(c.remote.Addr(), "")
	if !c.verdict.Permitted {
		c.srv.logf(obs.Warn, "conn=%s peer %s denied: %s", c.id, c.remote, c.verdict.Reason)
		c.srv.metricCounter("httpd_connections_denied_total", 1)
	}

	buf := make([]byte, c.srv.readBufferSize())
	timeouts := 0
	for {
		_ = c.rwc.SetReadDeadline(time.Now().Add(c.srv.idleTimeout()))
		n, err := c.rwc.Read(buf)
		if n > 0 {
			timeouts = 0
			c.framer.Push(buf[:n])
			more, handled := c.drain()
			requests += handled
			if !more {
				return
			}
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			if c.srv.shuttingDown() {
				return
			}
			timeouts++
			if limit := c.srv.MaxIdleTimeouts; limit > 0 && timeouts >= limit {
				c.srv.logf(obs.Debug, "conn=%s %v", c.id, ErrIdleLimit)
				return
			}
			continue
		}
		if !errors.Is(err, io.EOF) {
			c.srv.logf(obs.Warn, "conn=%s receive failed: %v", c.id, err)
		}
		return
	}
}

// drain answers every request the framer holds, in order. It reports
// whether the connection should keep reading and how many requests it
// answered.
func (c *conn) drain() (more bool, handled int) {
	for c.framer.HasComplete() {
		pr, err := c.framer.PopRequest()
		if err != nil {
			break
		}
		handled++
		if !c.handle(pr) {
			return false, handled
		}
	}
	if err := c.framer.Err(); err != nil {
		c.srv.logf(obs.Info, "conn=%s framing error: %v", c.id, err)
		c.srv.metricCounter("httpd_framing_errors_total", 1)
		resp := errorResponse(framingStatus(err), "")
		if !c.verdict.Permitted && !c.srv.AdvisoryDenial {
			// a denied peer learns only the denial
			resp = errorResponse(403, c.verdict.Reason)
		}
		resp.Header.Set("Connection", "close")
		c.send(resp)
		c.srv.metricCounter("httpd_requests_total", 1, obs.Label{Key: "status", Value: strconv.Itoa(resp.StatusCode)})
		return false, handled
	}
	return true, handled
}

func framingStatus(err error) int {
	switch {
	case errors.Is(err, http1.ErrHeaderTooLarge):
		return 431
	case errors.Is(err, http1.ErrBodyTooLarge):
		return 413
	default:
		return 400
	}
}

// handle answers one request and reports whether the connection stays open.
func (c *conn) handle(pr *http1.ParsedRequest) bool {
	start := time.Now()
	req := c.newRequest(pr)
	keepAlive := !strings.EqualFold(req.Header.Get("Connection"), "close")

	if !c.verdict.Permitted {
		forbidden := errorResponse(403, c.verdict.Reason)
		if !c.srv.AdvisoryDenial {
			forbidden.Header.Set("Connection", "close")
			c.send(forbidden)
			c.observe(req, forbidden, start)
			return false
		}
		negotiateConnection(forbidden, req)
		if !c.send(forbidden) {
			return false
		}
	}

	resp := c.serveRequest(req)
	negotiateConnection(resp, req)
	ok := c.send(resp)
	c.observe(req, resp, start)
	if strings.EqualFold(resp.Header.Get("Connection"), "close") {
		keepAlive = false
	}
	return ok && keepAlive
}

func (c *conn) newRequest(pr *http1.ParsedRequest) *Request {
	var u *url.URL
	if strings.HasPrefix(pr.RequestURI, "http://") || strings.HasPrefix(pr.RequestURI, "https://") {
		u, _ = url.Parse(pr.RequestURI)
	} else {
		u, _ = url.ParseRequestURI(pr.RequestURI)
	}
	h := Header(pr.Header)
	r := &Request{
		Method:        pr.Method,
		URL:           u,
		RequestURI:    pr.RequestURI,
		Proto:         pr.Proto,
		Header:        h,
		Body:          pr.Body,
		Host:          h.Get("Host"),
		ContentLength: pr.ContentLength,
		RemoteAddr:    c.remote,
		RequestID:     genID(),
	}
	r.ctx = WithRequestID(WithConnID(context.Background(), c.id), r.RequestID)
	return r
}

func (c *conn) serveRequest(req *Request) (resp *Response) {
	defer func() {
		if p := recover(); p != nil {
			c.srv.logf(obs.Error, "conn=%s req=%s handler panic: %v", c.id, req.RequestID, p)
			resp = errorResponse(500, "")
		}
	}()
	w := &responseBuffer{}
	c.srv.handler().ServeHTTP(w, req)
	return w.response()
}

// negotiateConnection mirrors the request's Connection header onto a
// response that did not set one, defaulting to keep-alive.
func negotiateConnection(resp *Response, req *Request) {
	if resp.Header == nil {
		resp.Header = Header{}
	}
	if resp.Header.Get("Connection") != "" {
		return
	}
	if v := req.Header.Get("Connection"); v != "" {
		resp.Header.Set("Connection", v)
		return
	}
	resp.Header.Set("Connection", "keep-alive")
}

func (c *conn) send(resp *Response) bool {
	if resp.Header == nil {
		resp.Header = Header{}
	}
	if resp.Header.Get("Server") == "" {
		resp.Header.Set("Server", c.srv.serverName())
	}
	c.out = resp.appendTo(c.out[:0])
	if err := c.writeAll(c.out); err != nil {
		c.srv.logf(obs.Warn, "conn=%s send failed: %v", c.id, err)
		return false
	}
	return true
}

// writeAll writes p, resuming after partial writes. Timeouts and zero-byte
// writes count as failed attempts; maxWriteAttempts consecutive failures
// or any other error abandon the connection.
func (c *conn) writeAll(p []byte) error {
	failures := 0
	for len(p) > 0 {
		if c.srv.WriteTimeout > 0 {
			_ = c.rwc.SetWriteDeadline(time.Now().Add(c.srv.WriteTimeout))
		}
		n, err := c.rwc.Write(p)
		p = p[n:]
		if n > 0 {
			failures = 0
		}
		if err != nil && !isTimeout(err) {
			return err
		}
		if err != nil || n == 0 {
			failures++
			if failures >= maxWriteAttempts {
				return ErrWriteStalled
			}
		}
	}
	return nil
}

func (c *conn) observe(req *Request, resp *Response, start time.Time) {
	status := strconv.Itoa(resp.StatusCode)
	c.srv.metricCounter("httpd_requests_total", 1, obs.Label{Key: "status", Value: status})
	c.srv.metricHistogram("httpd_request_seconds", time.Since(start).Seconds())
	c.srv.logf(obs.Info, "conn=%s req=%s %s %q %s -> %d (%d bytes)",
		c.id, req.RequestID, c.remote, req.Method+" "+req.RequestURI, req.Proto, resp.StatusCode, len(resp.Body))
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
