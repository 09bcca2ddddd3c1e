package httpx

import (
	"bytes"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"dqx0.com/go/httpd/internal/access"
	"dqx0.com/go/httpd/internal/obs"
)

type Handler interface {
	ServeHTTP(ResponseWriter, *Request)
}

type HandlerFunc func(ResponseWriter, *Request)

func (f HandlerFunc) ServeHTTP(w ResponseWriter, r *Request) {
	f(w, r)
}

type ResponseWriter interface {
	Header() Header
	Write([]byte) (int, error)
	WriteHeader(status int)
}

// DispatchMode selects how Serve bounds the number of live connections.
type DispatchMode int

const (
	// DispatchGate admits a new connection whenever a slot frees up.
	DispatchGate DispatchMode = iota
	// DispatchBatch fills a batch of MaxConns connections, then stops
	// accepting until every member of the batch has finished. Accepting
	// pauses for as long as the slowest connection of the batch lives.
	DispatchBatch
)

func (m DispatchMode) String() string {
	switch m {
	case DispatchGate:
		return "gate"
	case DispatchBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// ParseDispatchMode maps "gate" or "batch" to a DispatchMode.
func ParseDispatchMode(s string) (DispatchMode, error) {
	switch s {
	case "gate", "":
		return DispatchGate, nil
	case "batch":
		return DispatchBatch, nil
	default:
		return DispatchGate, ErrInvalidDispatch
	}
}

const (
	DefaultIdleTimeout    = 3 * time.Second
	DefaultMaxConns       = 200
	DefaultReadBufferSize = 4 << 10
	DefaultServerName     = "dqx0-httpd"
	maxWriteAttempts      = 3
)

type Server struct {
	Addr    string
	Handler Handler
	// Rules is consulted once per connection with the peer address. Nil
	// permits every peer.
	Rules *access.RuleList
	// AdvisoryDenial makes an address denial emit a 403 ahead of the normal
	// response instead of replacing it and closing the connection.
	AdvisoryDenial bool

	// IdleTimeout bounds a single read. A read that times out is retried.
	IdleTimeout time.Duration
	// MaxIdleTimeouts closes a connection after that many consecutive read
	// timeouts. Zero retries forever.
	MaxIdleTimeouts int
	WriteTimeout    time.Duration
	MaxHeaderBytes  int
	MaxBodyBytes    int64
	ReadBufferSize  int

	MaxConns int
	Dispatch DispatchMode
	// AcceptRate limits accepted connections per second. Zero is unlimited.
	AcceptRate float64

	ServerName string
	Logger     obs.Logger
	Meter      obs.Meter

	mu         sync.Mutex
	listeners  map[*net.Listener]struct{}
	inShutdown atomic.Bool
	done       chan struct{}
	doneOnce   sync.Once
	conns      sync.WaitGroup
}

func (s *Server) ListenAndServe() error {
	if s.shuttingDown() {
		return ErrServerClosed
	}
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on l and serves each on its own goroutine,
// keeping at most MaxConns alive according to Dispatch. It returns
// ErrServerClosed after Shutdown.
func (s *Server) Serve(l net.Listener) error {
	if s.Dispatch != DispatchGate && s.Dispatch != DispatchBatch {
		l.Close()
		return ErrInvalidDispatch
	}
	if s.Dispatch == DispatchGate {
		l = netutil.LimitListener(l, s.maxConns())
	}
	if !s.trackListener(&l, true) {
		l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(&l, false)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.getDoneChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	var limiter *rate.Limiter
	if s.AcceptRate > 0 {
		burst := int(s.AcceptRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.AcceptRate), burst)
	}

	s.logf(obs.Info, "serving on %s (dispatch=%s max_conns=%d)", l.Addr(), s.Dispatch, s.maxConns())

	// batch and inBatch belong to this loop only.
	var batch sync.WaitGroup
	inBatch := 0
	var tempDelay time.Duration
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return ErrServerClosed
			}
		}
		rw, err := l.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			if te, ok := err.(interface{ Temporary() bool }); ok && te.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logf(obs.Error, "accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		if s.shuttingDown() {
			rw.Close()
			return ErrServerClosed
		}
		s.logf(obs.Info, "accept a connection from %s", rw.RemoteAddr())
		s.metricCounter("httpd_connections_total", 1)

		s.conns.Add(1)
		if s.Dispatch == DispatchBatch {
			batch.Add(1)
			inBatch++
			go func() {
				defer batch.Done()
				s.serveConn(rw)
			}()
			if inBatch == s.maxConns() {
				s.logf(obs.Debug, "batch of %d full, waiting for it to drain", inBatch)
				batch.Wait()
				inBatch = 0
			}
			continue
		}
		go s.serveConn(rw)
	}
}

func (s *Server) serveConn(rw net.Conn) {
	defer s.conns.Done()
	s.newConn(rw).serve()
}

// Shutdown stops accepting, asks idle connections to finish at their next
// read timeout and waits for all of them or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.doneOnce.Do(func() { close(s.getDoneChan()) })

	s.mu.Lock()
	for ln := range s.listeners {
		(*ln).Close()
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) shuttingDown() bool { return s.inShutdown.Load() }

func (s *Server) getDoneChan() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}

func (s *Server) trackListener(ln *net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[*net.Listener]struct{})
	}
	if add {
		if s.shuttingDown() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return s.IdleTimeout
}

func (s *Server) maxConns() int {
	if s.MaxConns <= 0 {
		return DefaultMaxConns
	}
	return s.MaxConns
}

func (s *Server) readBufferSize() int {
	if s.ReadBufferSize <= 0 {
		return DefaultReadBufferSize
	}
	return s.ReadBufferSize
}

func (s *Server) serverName() string {
	if s.ServerName == "" {
		return DefaultServerName
	}
	return s.ServerName
}

func (s *Server) handler() Handler {
	if s.Handler != nil {
		return s.Handler
	}
	return HandlerFunc(func(w ResponseWriter, r *Request) {
		Error(w, 404, "")
	})
}

func (s *Server) logf(level obs.Level, format string, args ...interface{}) {
	lg := s.Logger
	if lg == nil {
		lg = obs.NopLogger{}
	}
	lg.Logf(level, format, args...)
}

func (s *Server) metricCounter(name string, value float64, labels ...obs.Label) {
	s.getMeter().Counter(name, value, labels...)
}

func (s *Server) metricHistogram(name string, value float64, labels ...obs.Label) {
	s.getMeter().Histogram(name, value, labels...)
}

func (s *Server) getMeter() obs.Meter {
	if s.Meter != nil {
		return s.Meter
	}
	return obs.NopMeter{}
}

// responseBuffer collects a handler's response for the connection to
// negotiate and send in one piece.
type responseBuffer struct {
	h       Header
	status  int
	wroteH  bool
	bodyBuf bytes.Buffer
}

func (w *responseBuffer) Header() Header {
	if w.h == nil {
		w.h = Header{}
	}
	return w.h
}

func (w *responseBuffer) WriteHeader(status int) {
	if w.wroteH {
		return
	}
	if status == 0 {
		status = 200
	}
	w.status = status
	w.wroteH = true
}

func (w *responseBuffer) Write(p []byte) (int, error) {
	if !w.wroteH {
		w.WriteHeader(200)
	}
	return w.bodyBuf.Write(p)
}

func (w *responseBuffer) response() *Response {
	if !w.wroteH {
		w.WriteHeader(200)
	}
	return &Response{StatusCode: w.status, Header: w.Header(), Body: w.bodyBuf.Bytes()}
}
