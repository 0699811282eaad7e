package middleware

import (
	"net/http"

	"github.com/cloo-solutions/profundo/internal/api"
	"github.com/cloo-solutions/profundo/internal/domain"
)

// MaxBodyBytes caps request bodies at limit bytes. Only POST /recall takes
// a body, so an oversized declared length is rejected before the handler
// runs and an undeclared one is cut off while decoding.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				api.JSON(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{
					Error: "request body too large",
					Code:  domain.ErrCodeValidation,
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
