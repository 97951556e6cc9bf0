package middleware

import (
	"net/http"
	"net/url"

	"github.com/1314ysys/WebTerminalTool/internal/logutil"
)

// RedactQuery replaces the named query parameters in r.RequestURI with their
// fingerprints, so request loggers mounted after it never print them. r.URL
// is left untouched for the handlers.
func RedactQuery(params ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			changed := false
			for _, p := range params {
				if v := q.Get(p); v != "" {
					q.Set(p, logutil.Fingerprint(v))
					changed = true
				}
			}
			if !changed {
				next.ServeHTTP(w, r)
				return
			}
			r2 := r.Clone(r.Context())
			r2.URL = r.URL
			r2.RequestURI = (&url.URL{Path: r.URL.Path, RawQuery: q.Encode()}).RequestURI()
			next.ServeHTTP(w, r2)
		})
	}
}
