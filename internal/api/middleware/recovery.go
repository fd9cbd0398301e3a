package middleware

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/api/response"
)

// Recovery turns a handler panic into a 500 error envelope. Aborted
// handlers are re-panicked so net/http can drop the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			zap.L().Error("panic recovered",
				zap.Any("panic", rec),
				zap.Stack("stack"),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal,
				"An unexpected error occurred", nil)
		}()

		next.ServeHTTP(w, r)
	})
}
