package middleware

import (
	"net/http"
	"strings"
)

// streamSuffixes are media payloads that are already compressed or must
// not be buffered; compressing them wastes CPU and breaks flushing on
// long-lived responses.
var streamSuffixes = []string{"/mpegts", ".ts", ".mp4", ".m4s"}

// SkipCompressionForStreams wraps a compression middleware so that
// playlists and JSON stay compressible while media segment and live
// stream responses bypass compression entirely.
func SkipCompressionForStreams(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			for _, suffix := range streamSuffixes {
				if strings.HasSuffix(path, suffix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
