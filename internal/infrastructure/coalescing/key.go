package coalescing

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// DeriveKey builds the dedup key for req from its method, full URL and body.
// An absent body (nil) and a present empty body produce different keys.
func DeriveKey(req Request) string {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(req.URL)

	if req.Body != nil {
		sum := sha256.Sum256(req.Body)
		b.WriteByte('#')
		b.WriteString(hex.EncodeToString(sum[:]))
	}

	return b.String()
}
