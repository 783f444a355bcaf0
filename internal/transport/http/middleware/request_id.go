package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"pbc/internal/requestctx"
)

const headerRequestID = "X-Request-ID"

// RequestID propagates the caller's request ID or mints one. Oversized
// client values are discarded rather than echoed into logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := requestctx.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetRequestID(ctx context.Context) string {
	return requestctx.RequestID(ctx)
}
