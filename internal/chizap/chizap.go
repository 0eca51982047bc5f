// Package chizap logs chi requests through zap.
package chizap

import (
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	SkipPaths       []string
	SkipPathRegexps []*regexp.Regexp
	// Level for successful requests. 4xx log at warn, 5xx at error.
	DefaultLevel zapcore.Level
}

func (c *Config) skip(path string) bool {
	for _, p := range c.SkipPaths {
		if p == path {
			return true
		}
	}
	for _, re := range c.SkipPathRegexps {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func Chizap(logger *zap.Logger) func(next http.Handler) http.Handler {
	return ChizapWithConfig(logger, &Config{DefaultLevel: zapcore.InfoLevel})
}

func ChizapWithConfig(logger *zap.Logger, conf *Config) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if conf.skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				level := conf.DefaultLevel
				switch {
				case status >= http.StatusInternalServerError:
					level = zapcore.ErrorLevel
				case status >= http.StatusBadRequest:
					level = zapcore.WarnLevel
				}
				fields := []zapcore.Field{
					zap.Int("status", status),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("ip", r.RemoteAddr),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("latency", time.Since(start)),
				}
				if id := middleware.GetReqID(r.Context()); id != "" {
					fields = append(fields, zap.String("request_id", id))
				}
				logger.Log(level, "http.request", fields...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
