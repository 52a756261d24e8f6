package middlewarectx

import (
	"net/http"

	"github.com/magabrotheeeer/video-subscription/internal/capability"
)

// EdgeRuntime помечает запросы, пришедшие через edge-среду, описанием без
// возможностей. Значение заголовка header становится именем среды.
// Пустой header отключает middleware.
func EdgeRuntime(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if header == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if runtime := r.Header.Get(header); runtime != "" {
				ctx := capability.WithDescriptor(r.Context(), capability.NewDescriptor(runtime))
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}
