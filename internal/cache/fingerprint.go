package cache

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Fingerprint derives a stable cache key for a call from its HTTP verb,
// endpoint and caller-supplied parameters. Parameter order does not matter;
// every component is length-prefixed so distinct calls cannot collide by
// concatenation.
func Fingerprint(method, endpoint string, params map[string]any) string {
	h := blake3.New()
	writeField(h, strings.ToUpper(method))
	writeField(h, endpoint)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		writeField(h, k)
		writeField(h, canonical(params[k]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h *blake3.Hasher, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(s))
}

// canonical renders v as JSON (maps are key-sorted by encoding/json), falling
// back to a typed fmt rendering for values JSON cannot encode.
func canonical(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(data)
}
