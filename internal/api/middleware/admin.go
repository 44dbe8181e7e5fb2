package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/lemonslots/internal/api/apierr"
)

// AdminKeyHeader carries the plaintext admin key
const AdminKeyHeader = "X-Admin-Key"

// AdminKey guards admin endpoints with a bcrypt-hashed shared key.
// An empty hash disables the admin surface entirely.
func AdminKey(keyHash string) func(http.Handler) http.Handler {
	hash := []byte(keyHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(hash) == 0 {
				apierr.WriteError(w, apierr.NewForbiddenError("Admin access is not configured"))
				return
			}

			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				apierr.WriteError(w, apierr.NewUnauthorizedError())
				return
			}

			if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
				apierr.WriteError(w, apierr.NewForbiddenError("Invalid admin key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
