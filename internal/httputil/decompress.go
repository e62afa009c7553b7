package httputil

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/pierrec/lz4/v4"
)

// DecompressPayload adds a reader of the right type in case you need to decompress the body.
// Brotli and lz4 encoded bodies are supported.
func DecompressPayload(next http.Handler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		switch r.Header.Get("Content-Encoding") {
		case "br":
			r.Body = io.NopCloser(brotli.NewReader(r.Body))
		case "lz4":
			r.Body = io.NopCloser(lz4.NewReader(r.Body))
		default:
			next.ServeHTTP(w, r)
			return
		}
		r.Header.Del("Content-Encoding")
		r.ContentLength = -1

		next.ServeHTTP(w, r)
	})
}
