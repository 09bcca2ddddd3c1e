// Package httpx provides a small HTTP/1.1 server for static content.
//
// Highlights
//   - Framing: requests are assembled from arbitrary read chunks, so
//     pipelined requests and requests split across reads are both served
//     in order.
//   - Admission: an optional rule list decides per connection whether the
//     peer is served, and per request whether a path is.
//   - Dispatch: at most MaxConns connections are live, either gated one
//     slot at a time or in whole batches.
//   - Observability: plug-in Logger and Meter interfaces.
//
// Quick start:
//
//	s := &httpx.Server{Addr: ":8080"}
//	s.Handler = &httpx.FileServer{Root: &static.Root{Dir: "/srv/www"}}
//	if err := s.ListenAndServe(); err != nil { log.Fatal(err) }
package httpx
