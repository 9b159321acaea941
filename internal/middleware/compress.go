package middleware

import (
	"compress/gzip"
	"strings"

	"github.com/gin-gonic/gin"
)

// gzipWriter starts compressing on the first body write, once the handler
// has set the content type. Responses without a body stay untouched.
type gzipWriter struct {
	gin.ResponseWriter
	config CompressConfig
	writer *gzip.Writer
	plain  bool
}

func (g *gzipWriter) Write(data []byte) (int, error) {
	if g.writer == nil && !g.plain {
		if !g.config.compressible(g.Header().Get("Content-Type")) {
			g.plain = true
		} else {
			gz, err := gzip.NewWriterLevel(g.ResponseWriter, g.config.Level)
			if err != nil {
				return 0, err
			}
			g.Header().Set("Content-Encoding", "gzip")
			g.Header().Del("Content-Length")
			g.writer = gz
		}
	}
	if g.plain {
		return g.ResponseWriter.Write(data)
	}
	return g.writer.Write(data)
}

func (g *gzipWriter) WriteString(s string) (int, error) {
	return g.Write([]byte(s))
}

func (g *gzipWriter) close() error {
	if g.writer == nil {
		return nil
	}
	return g.writer.Close()
}

// CompressConfig represents compression configuration
type CompressConfig struct {
	Level     int
	Types     []string
	Blacklist []string
}

// DefaultCompressConfig returns default compression configuration
func DefaultCompressConfig() CompressConfig {
	return CompressConfig{
		Level: gzip.DefaultCompression,
		Types: []string{
			"application/json",
			"text/plain",
		},
		Blacklist: []string{
			"/health",
			"/metrics",
		},
	}
}

func (c CompressConfig) compressible(contentType string) bool {
	for _, t := range c.Types {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

// Compress gzips response bodies for clients that accept it.
func Compress(config CompressConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip compression for blacklisted paths
		for _, path := range config.Blacklist {
			if strings.HasPrefix(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		// Check if client accepts gzip
		if !strings.Contains(c.Request.Header.Get("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}

		gw := &gzipWriter{ResponseWriter: c.Writer, config: config}
		c.Writer = gw
		c.Writer.Header().Add("Vary", "Accept-Encoding")

		c.Next()

		_ = gw.close()
		// outer middleware (the error handler) writes uncompressed
		c.Writer = gw.ResponseWriter
	}
}
