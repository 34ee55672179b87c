package middleware

import (
	"mime"

	"github.com/gin-gonic/gin"

	"txguard/pkg/logger"
)

// DefaultCharset is used when CharacterEncoding is given an empty charset.
const DefaultCharset = "utf-8"

// CharacterEncoding forces charset on the Content-Type of every response
// that has one. Responses without a Content-Type are left alone.
func CharacterEncoding(charset string) gin.HandlerFunc {
	if charset == "" {
		charset = DefaultCharset
	}
	return func(c *gin.Context) {
		logger.Debug(c.Request.Context(), "character encoding applied",
			"charset", charset,
			"path", c.Request.URL.Path,
		)
		c.Writer = &charsetWriter{ResponseWriter: c.Writer, charset: charset}
		c.Next()
	}
}

// charsetWriter rewrites Content-Type right before the header is sent.
type charsetWriter struct {
	gin.ResponseWriter
	charset string
	applied bool
}

func (w *charsetWriter) apply() {
	if w.applied {
		return
	}
	w.applied = true

	header := w.Header()
	contentType := header.Get("Content-Type")
	if contentType == "" {
		return
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return
	}
	params["charset"] = w.charset
	header.Set("Content-Type", mime.FormatMediaType(mediaType, params))
}

func (w *charsetWriter) WriteHeaderNow() {
	if !w.Written() {
		w.apply()
	}
	w.ResponseWriter.WriteHeaderNow()
}

func (w *charsetWriter) Write(data []byte) (int, error) {
	if !w.Written() {
		w.apply()
	}
	return w.ResponseWriter.Write(data)
}

func (w *charsetWriter) WriteString(s string) (int, error) {
	if !w.Written() {
		w.apply()
	}
	return w.ResponseWriter.WriteString(s)
}
