// Package fingerprint computes deterministic, key-order-independent hashes
// of structured payloads, used to detect duplicate pending and in-flight
// requests.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"io"
	"sort"
)

// Object returns a stable fingerprint of v. Map key insertion order does not
// affect the result; slices hash in element order.
func Object(v any) string {
	h := fnv.New64a()
	writeValue(h, v)
	return fmt.Sprintf("%x", h.Sum64())
}

// Request fingerprints (operation, dedup-relevant payload subset). When
// fields is empty the whole payload participates. Missing fields hash as an
// explicit absence marker so {a:1} and {a:1,b:nil} stay distinguishable.
func Request(operation string, payload map[string]any, fields []string) string {
	h := fnv.New64a()
	h.Write([]byte(operation))
	h.Write([]byte{0})

	if len(fields) == 0 {
		writeValue(h, payload)
		return fmt.Sprintf("%x", h.Sum64())
	}

	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)
	for _, f := range sorted {
		h.Write([]byte(f))
		h.Write([]byte{'='})
		if v, ok := payload[f]; ok {
			writeValue(h, v)
		} else {
			h.Write([]byte("<absent>"))
		}
		h.Write([]byte{';'})
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func writeValue(h io.Writer, v any) {
	switch val := v.(type) {
	case nil:
		h.Write([]byte("<nil>"))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h.Write([]byte{'{'})
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write([]byte{':'})
			writeValue(h, val[k])
			h.Write([]byte{','})
		}
		h.Write([]byte{'}'})
	case []any:
		h.Write([]byte{'['})
		for _, item := range val {
			writeValue(h, item)
			h.Write([]byte{','})
		}
		h.Write([]byte{']'})
	default:
		// Scalars carry a type prefix so 1 and "1" hash differently.
		fmt.Fprintf(h, "%T:%v", val, val)
	}
}
