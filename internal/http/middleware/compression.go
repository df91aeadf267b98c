package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForMedia wraps a compression middleware so media download
// responses bypass it. Download bodies are already-compressed codec data,
// and the compressor's buffering would delay delivery of a live stream.
func SkipCompressionForMedia(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/download") {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
