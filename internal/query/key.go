package query

import (
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached query: a resource family plus its parameters.
type Key struct {
	Resource string
	Params   map[string]string
}

// NewKey builds a key from a resource and alternating name/value pairs.
// A trailing name without a value is ignored.
func NewKey(resource string, kv ...string) Key {
	k := Key{Resource: resource}
	for i := 0; i+1 < len(kv); i += 2 {
		if k.Params == nil {
			k.Params = make(map[string]string, len(kv)/2)
		}
		k.Params[kv[i]] = kv[i+1]
	}
	return k
}

// String renders the key with sorted parameters, so equal keys are equal
// strings regardless of construction order.
func (k Key) String() string {
	if len(k.Params) == 0 {
		return k.Resource
	}
	names := make([]string, 0, len(k.Params))
	for n := range k.Params {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(k.Resource)
	for i, n := range names {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(n))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(k.Params[n]))
	}
	return b.String()
}
