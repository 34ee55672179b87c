package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCharacterEncoding(t *testing.T) {
	tests := []struct {
		name    string
		charset string
		handler gin.HandlerFunc
		want    string
	}{
		{
			name:    "json gets configured charset",
			charset: "iso-8859-1",
			handler: func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) },
			want:    "application/json; charset=iso-8859-1",
		},
		{
			name:    "default charset",
			charset: "",
			handler: func(c *gin.Context) { c.Data(http.StatusOK, "text/plain", []byte("hi")) },
			want:    "text/plain; charset=utf-8",
		},
		{
			name:    "string writer",
			charset: "utf-16",
			handler: func(c *gin.Context) { c.String(http.StatusOK, "hello") },
			want:    "text/plain; charset=utf-16",
		},
		{
			name:    "no content type",
			charset: "utf-8",
			handler: func(c *gin.Context) { c.Status(http.StatusNoContent) },
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CharacterEncoding(tt.charset))
			r.GET("/", tt.handler)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.want, w.Header().Get("Content-Type"))
		})
	}
}
