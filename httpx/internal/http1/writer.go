package http1

import (
	"sort"
	"strconv"
)

// AppendResponse serializes an HTTP/1.1 response onto dst. Headers are
// written in sorted key order with keys used as given; invalid keys are
// dropped and values are sanitized. Content-Length is the caller's job.
func AppendResponse(dst []byte, status int, reason string, hdr map[string][]string, body []byte) []byte {
	if reason == "" {
		reason = StatusText(status)
	}
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, reason...)
	dst = append(dst, "\r\n"...)

	keys := make([]string, 0, len(hdr))
	for k := range hdr {
		if SanitizeHeaderKey(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range hdr[k] {
			dst = append(dst, k...)
			dst = append(dst, ": "...)
			dst = append(dst, SanitizeHeaderValue(v)...)
			dst = append(dst, "\r\n"...)
		}
	}
	dst = append(dst, "\r\n"...)
	return append(dst, body...)
}

// StatusText returns the reason phrase for the status codes the server emits.
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 413:
		return "Content Too Large"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 505:
		return "HTTP Version Not Supported"
	default:
		return "Unknown"
	}
}
