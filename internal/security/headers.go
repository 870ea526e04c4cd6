// Package security adds the response headers every page carries.
package security

import "net/http"

const (
	ContentSecurityPolicy = "default-src 'self'; script-src 'self';"
	ContentTypeOptions    = "nosniff"
)

// Headers sets Content-Security-Policy and X-Content-Type-Options on every
// response. The values are applied again when the status line is written,
// so a handler cannot drop or weaken them.
func Headers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apply(w.Header())
		next.ServeHTTP(&headerWriter{ResponseWriter: w}, r)
	})
}

func apply(h http.Header) {
	h.Set("Content-Security-Policy", ContentSecurityPolicy)
	h.Set("X-Content-Type-Options", ContentTypeOptions)
}

type headerWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *headerWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		apply(w.ResponseWriter.Header())
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *headerWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *headerWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
