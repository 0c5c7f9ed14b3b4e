package httpmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/cwrk-planet/meeting-service/internal/identity"
	"github.com/cwrk-planet/meeting-service/pkg/httputil"
)

const HeaderReporterKey = "X-Reporter-Key"

// Auth requires a bearer credential the verifier accepts and stores the
// resulting identity in the request context.
func Auth(v identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r)
			if !ok {
				httputil.Error(r.Context(), w, http.StatusUnauthorized, "missing or invalid Authorization header", nil)
				return
			}

			id, err := v.Verify(r.Context(), token)
			if err != nil {
				httputil.Error(r.Context(), w, http.StatusUnauthorized, "invalid credential", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

// ReporterKey admits the real-time layer by its shared key. An empty key
// rejects every request.
func ReporterKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(HeaderReporterKey)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httputil.Error(r.Context(), w, http.StatusUnauthorized, "invalid reporter key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
