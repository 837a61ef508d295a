package middleware

import (
	"net/http"

	"github.com/artloft/gallery/internal/authctx"
)

// WithCustomerID — HTTP middleware: читает заголовок x-customer-id (выдаётся
// внешним auth-слоем), при отсутствии возвращает 401, иначе кладёт id в context
func WithCustomerID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("x-customer-id")
		if id == "" {
			http.Error(w, "customer id is required", http.StatusUnauthorized)
			return
		}
		ctx := authctx.WithCustomerID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
