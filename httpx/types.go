package httpx

import (
	"net/textproto"
	"strings"
)

// Header maps field names to values. Request headers keep the keys exactly
// as received; Get still finds them case-insensitively. Set, Add and Del
// canonicalize.
type Header map[string][]string

func (h Header) Get(key string) string {
	if vv := h.Values(key); len(vv) > 0 {
		return vv[0]
	}
	return ""
}

// Values returns the values stored under key, trying the exact key, its
// canonical form, then any key equal under case folding.
func (h Header) Values(key string) []string {
	if h == nil {
		return nil
	}
	if vv, ok := h[key]; ok {
		return vv
	}
	if vv, ok := h[textproto.CanonicalMIMEHeaderKey(key)]; ok {
		return vv
	}
	for k, vv := range h {
		if strings.EqualFold(k, key) {
			return vv
		}
	}
	return nil
}

func (h Header) Set(key, value string) {
	if h == nil {
		return
	}
	k := textproto.CanonicalMIMEHeaderKey(key)
	h[k] = []string{value}
}

func (h Header) Add(key, value string) {
	if h == nil {
		return
	}
	k := textproto.CanonicalMIMEHeaderKey(key)
	h[k] = append(h[k], value)
}

func (h Header) Del(key string) {
	if h == nil {
		return
	}
	k := textproto.CanonicalMIMEHeaderKey(key)
	delete(h, k)
}
