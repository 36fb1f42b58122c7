// Package channel builds the cache-invalidation channel attached to tile
// responses and announces new channels to downstream purgers.
package channel

import (
	"bytes"
	"encoding/json"
	"strings"
)

const sep = ":"

// For returns the channel for a tenant datasource and the combined query of
// a layer group. Equal inputs always give equal channels. Comparison
// operators are kept literal since purgers match the channel byte for byte.
func For(datasource, combinedQuery string) string {
	var q bytes.Buffer
	enc := json.NewEncoder(&q)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(struct {
		Q string `json:"q"`
	}{Q: combinedQuery})

	var b strings.Builder
	b.Grow(len(datasource) + len(sep) + q.Len())
	b.WriteString(datasource)
	b.WriteString(sep)
	b.Write(bytes.TrimSuffix(q.Bytes(), []byte("\n")))
	return b.String()
}
