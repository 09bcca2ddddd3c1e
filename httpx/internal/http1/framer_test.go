package http1

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	reqA = "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"
	reqB = "POST /form HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"
)

func popAll(t *testing.T, f *Framer) []*ParsedRequest {
	t.Helper()
	var out []*ParsedRequest
	for f.HasComplete() {
		pr, err := f.PopRequest()
		if err != nil {
			t.Fatalf("PopRequest: %v", err)
		}
		out = append(out, pr)
	}
	return out
}

func TestFramer_SingleRequest(t *testing.T) {
	f := NewFramer(0, 0)
	f.Push([]byte(reqA))
	if !f.HasComplete() {
		t.Fatal("expected a complete request")
	}
	pr, err := f.PopRequest()
	if err != nil {
		t.Fatalf("PopRequest: %v", err)
	}
	want := &ParsedRequest{
		Method:     "GET",
		RequestURI: "/index.html",
		Proto:      "HTTP/1.1",
		Header:     map[string][]string{"Host": {"x"}},
	}
	if diff := cmp.Diff(want, pr); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
	if f.HasComplete() || f.Buffered() != 0 {
		t.Fatalf("HasComplete=%v Buffered=%d", f.HasComplete(), f.Buffered())
	}
}

func TestFramer_ContentLengthBody(t *testing.T) {
	f := NewFramer(0, 0)
	f.Push([]byte(reqB))
	pr, err := f.PopRequest()
	if err != nil {
		t.Fatalf("PopRequest: %v", err)
	}
	if pr.ContentLength != 5 || string(pr.Body) != "hello" {
		t.Fatalf("ContentLength=%d body=%q", pr.ContentLength, pr.Body)
	}
}

func TestFramer_PipelinedMatchesSeparatePushes(t *testing.T) {
	joined := NewFramer(0, 0)
	joined.Push([]byte(reqA + reqB))

	split := NewFramer(0, 0)
	split.Push([]byte(reqA))
	split.Push([]byte(reqB))

	got, want := popAll(t, joined), popAll(t, split)
	if len(got) != 2 {
		t.Fatalf("pipelined push yielded %d requests", len(got))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pipelined mismatch (-separate +joined):\n%s", diff)
	}
}

func TestFramer_PartialFinalTerminator(t *testing.T) {
	f := NewFramer(0, 0)
	f.Push([]byte(reqA[:len(reqA)-2]))
	if f.HasComplete() {
		t.Fatal("request without final CRLF must not be complete")
	}
	if f.Err() != nil {
		t.Fatalf("unexpected error: %v", f.Err())
	}
	f.Push([]byte("\r\n"))
	if got := len(popAll(t, f)); got != 1 {
		t.Fatalf("completed %d requests, want 1", got)
	}
}

func TestFramer_ByteAtATime(t *testing.T) {
	f := NewFramer(0, 0)
	stream := reqA + reqB + reqA
	var got []*ParsedRequest
	for i := 0; i < len(stream); i++ {
		f.Push([]byte{stream[i]})
		got = append(got, popAll(t, f)...)
	}
	if len(got) != 3 {
		t.Fatalf("got %d requests", len(got))
	}
	if got[1].Method != "POST" || string(got[1].Body) != "hello" {
		t.Fatalf("second request=%+v", got[1])
	}
}

func TestFramer_BodySplitAcrossPushes(t *testing.T) {
	f := NewFramer(0, 0)
	f.Push([]byte(reqB[:len(reqB)-3]))
	if f.HasComplete() {
		t.Fatal("body incomplete, request must not be ready")
	}
	f.Push([]byte(reqB[len(reqB)-3:]))
	if !f.HasComplete() {
		t.Fatal("expected request after body completes")
	}
}

func TestFramer_EmptyPushIsNoop(t *testing.T) {
	f := NewFramer(0, 0)
	f.Push(nil)
	f.Push([]byte{})
	if f.HasComplete() || f.Buffered() != 0 || f.Err() != nil {
		t.Fatal("empty push changed state")
	}
	if _, err := f.PopRequest(); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("PopRequest on empty framer err=%v", err)
	}
}

func TestFramer_LeadingCRLFAndBareLF(t *testing.T) {
	f := NewFramer(0, 0)
	f.Push([]byte("\r\n\r\nGET /a HTTP/1.0\nHost: y\n\n"))
	pr, err := f.PopRequest()
	if err != nil {
		t.Fatalf("PopRequest: %v", err)
	}
	if pr.RequestURI != "/a" || pr.Proto != "HTTP/1.0" || pr.Header["Host"][0] != "y" {
		t.Fatalf("request=%+v", pr)
	}
}

func TestFramer_EmptyLinesAreConsumed(t *testing.T) {
	f := NewFramer(1024, 0)
	blank := []byte(strings.Repeat("\r\n", 4096))
	for i := 0; i < 64; i++ {
		f.Push(blank)
	}
	if f.Buffered() != 0 || f.Err() != nil || f.HasComplete() {
		t.Fatalf("Buffered=%d Err=%v HasComplete=%v", f.Buffered(), f.Err(), f.HasComplete())
	}
	f.Push([]byte(reqA))
	if got := popAll(t, f); len(got) != 1 || got[0].RequestURI != "/index.html" {
		t.Fatalf("requests=%+v", got)
	}
}

func TestFramer_HeaderKeysAsReceived(t *testing.T) {
	f := NewFramer(0, 0)
	f.Push([]byte("GET / HTTP/1.1\r\nhost: a\r\nX-Multi: 1\r\nX-Multi: 2\r\n\r\n"))
	pr, _ := f.PopRequest()
	if _, ok := pr.Header["host"]; !ok {
		t.Fatalf("lower-case key not preserved: %v", pr.Header)
	}
	if got := pr.Header["X-Multi"]; len(got) != 2 {
		t.Fatalf("X-Multi=%v", got)
	}
}

func TestFramer_EmptyMethodIsFramed(t *testing.T) {
	f := NewFramer(0, 0)
	f.Push([]byte(" / HTTP/1.1\r\nHost: x\r\n\r\n"))
	pr, err := f.PopRequest()
	if err != nil {
		t.Fatalf("PopRequest: %v (framer err %v)", err, f.Err())
	}
	if pr.Method != "" {
		t.Fatalf("method=%q", pr.Method)
	}
}

func TestFramer_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"two-part request line", "GET /\r\n\r\n", ErrMalformedRequestLine},
		{"bad protocol", "GET / SPDY/3\r\n\r\n", ErrMalformedRequestLine},
		{"http2 preface", "PRI * HTTP/2.0\r\n\r\n", ErrMalformedRequestLine},
		{"header without colon", "GET / HTTP/1.1\r\nHost x\r\n\r\n", ErrMalformedHeader},
		{"invalid header name", "GET / HTTP/1.1\r\nBad( : v\r\n\r\n", ErrMalformedHeader},
		{"folded header", "GET / HTTP/1.1\r\nA: b\r\n c\r\n\r\n", ErrMalformedHeader},
		{"negative length", "POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n", ErrBadContentLength},
		{"mismatched length", "POST / HTTP/1.1\r\nContent-Length: 5, 6\r\n\r\n", ErrBadContentLength},
		{"chunked", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n", ErrUnsupportedTransferEncoding},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFramer(0, 0)
			f.Push([]byte(tc.raw))
			if f.HasComplete() {
				t.Fatal("malformed input produced a request")
			}
			if !errors.Is(f.Err(), tc.want) {
				t.Fatalf("err=%v want %v", f.Err(), tc.want)
			}
		})
	}
}

func TestFramer_Limits(t *testing.T) {
	f := NewFramer(64, 4)
	f.Push([]byte("GET / HTTP/1.1\r\nX-Long: " + strings.Repeat("a", 100)))
	if !errors.Is(f.Err(), ErrHeaderTooLarge) {
		t.Fatalf("unterminated header err=%v", f.Err())
	}

	f = NewFramer(64, 4)
	f.Push([]byte("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n"))
	if !errors.Is(f.Err(), ErrBodyTooLarge) {
		t.Fatalf("body limit err=%v", f.Err())
	}
}

func TestFramer_ErrorIsStickyAfterQueuedRequests(t *testing.T) {
	f := NewFramer(0, 0)
	f.Push([]byte(reqA + "BROKEN\r\n\r\n"))
	if !f.HasComplete() {
		t.Fatal("request ahead of the error should be queued")
	}
	if f.Err() == nil {
		t.Fatal("expected framing error")
	}
	f.Push([]byte(reqA))
	if got := len(popAll(t, f)); got != 1 {
		t.Fatalf("got %d requests, pushes after an error must be ignored", got)
	}
}
