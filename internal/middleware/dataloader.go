package middleware

import (
	"net/http"

	"github.com/rpattn/segmentql/internal/recordloader"
	"github.com/rpattn/segmentql/internal/repository"
)

// DataLoaderMiddleware attaches a request-scoped record loader to the context
// so member hydration within one request is batched and de-duplicated.
func DataLoaderMiddleware(store repository.RecordStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := recordloader.NewRecordLoader(store)
			ctx := recordloader.WithLoader(r.Context(), loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
