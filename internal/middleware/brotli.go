package middleware

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliConfig tunes response compression. Bodies shorter than MinLength
// are sent as-is.
type BrotliConfig struct {
	Quality   int
	MinLength int
}

var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
}

// brotliWriter holds the body back until it knows whether it is large
// enough to compress, then commits to one mode for the rest of the response.
type brotliWriter struct {
	gin.ResponseWriter
	cfg     BrotliConfig
	pending []byte
	encoder *brotli.Writer
	decided bool
}

func (w *brotliWriter) Write(data []byte) (int, error) {
	if w.decided {
		return w.emit(data)
	}
	w.pending = append(w.pending, data...)
	if len(w.pending) < w.cfg.MinLength {
		return len(data), nil
	}
	w.decide(true)
	if _, err := w.emit(w.pending); err != nil {
		return 0, err
	}
	w.pending = nil
	return len(data), nil
}

func (w *brotliWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *brotliWriter) decide(compress bool) {
	w.decided = true
	if !compress || !compressible(w.Header().Get("Content-Type")) {
		return
	}
	w.Header().Set("Content-Encoding", "br")
	w.Header().Del("Content-Length")
	w.encoder = brotli.NewWriterLevel(w.ResponseWriter, w.cfg.Quality)
}

func (w *brotliWriter) emit(data []byte) (int, error) {
	if w.encoder != nil {
		return w.encoder.Write(data)
	}
	return w.ResponseWriter.Write(data)
}

// finish writes whatever is still pending and closes the encoder.
func (w *brotliWriter) finish() error {
	if !w.decided {
		w.decide(false)
		if len(w.pending) > 0 {
			if _, err := w.ResponseWriter.Write(w.pending); err != nil {
				return err
			}
		}
		return nil
	}
	if w.encoder != nil {
		return w.encoder.Close()
	}
	return nil
}

// Brotli compresses JSON responses for clients that accept br.
func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < brotli.BestSpeed || cfg.Quality > brotli.BestCompression {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		// The upgrade handshake needs the raw writer.
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		bw := &brotliWriter{ResponseWriter: c.Writer, cfg: cfg}
		c.Writer = bw
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()
		c.Next()
	}
}

func compressible(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json") || strings.HasPrefix(contentType, "text/")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}
