package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(key))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		setup  func(*http.Request)
		target string
		want   int
	}{
		{"disabled", "", func(*http.Request) {}, "/x", http.StatusNoContent},
		{"missing", "s3cret", func(*http.Request) {}, "/x", http.StatusUnauthorized},
		{"header", "s3cret", func(r *http.Request) { r.Header.Set("X-API-Key", "s3cret") }, "/x", http.StatusNoContent},
		{"bearer", "s3cret", func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") }, "/x", http.StatusNoContent},
		{"query", "s3cret", func(*http.Request) {}, "/x?api_key=s3cret", http.StatusNoContent},
		{"wrong", "s3cret", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }, "/x", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			newEngine(tt.key).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
