package router

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/transcriber/internal/api/handler"
	"github.com/cuongbtq/transcriber/internal/domain"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// DevOwner is the identity recorded on jobs when auth is bypassed.
const DevOwner = "dev"

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("owner", handler.OwnerFrom(c)),
			slog.Duration("latency", time.Since(start)),
			slog.Int("body_size", c.Writer.Size()),
		)
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AuthMiddleware accepts "Authorization: Bearer <key>" or the bare key and
// stores a hash of the key as the caller identity. In dev mode every request
// is let through as DevOwner.
func AuthMiddleware(apiKeys []string, devMode bool, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if devMode {
			c.Set(handler.OwnerKey, DevOwner)
			c.Next()
			return
		}

		key := extractKey(c.GetHeader("Authorization"))
		if key == "" || !validKey(key, apiKeys) {
			logger.Warn("Rejected request with invalid API key",
				slog.String("path", c.Request.URL.Path),
				slog.String("ip", c.ClientIP()),
			)
			handler.RespondError(c, logger, domain.NewInvalidAPIKeyError())
			return
		}

		c.Set(handler.OwnerKey, OwnerID(key))
		c.Next()
	}
}

func extractKey(header string) string {
	header = strings.TrimSpace(header)
	if scheme, token, ok := strings.Cut(header, " "); ok {
		if !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return header
}

func validKey(key string, apiKeys []string) bool {
	match := 0
	for _, k := range apiKeys {
		match |= subtle.ConstantTimeCompare([]byte(key), []byte(k))
	}
	return match == 1
}

// OwnerID derives the stored identity of an API key.
func OwnerID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// RateLimitMiddleware allows limit requests per window for each caller,
// refilled continuously. It must run after AuthMiddleware.
func RateLimitMiddleware(limit int, window time.Duration, logger *slog.Logger) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	every := rate.Every(window / time.Duration(limit))

	return func(c *gin.Context) {
		identity := handler.OwnerFrom(c)
		if identity == "" {
			identity = c.ClientIP()
		}

		mu.Lock()
		limiter, ok := limiters[identity]
		if !ok {
			limiter = rate.NewLimiter(every, limit)
			limiters[identity] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			logger.Warn("Rate limit exceeded",
				slog.String("identity", identity),
				slog.String("path", c.Request.URL.Path),
			)
			c.Header("Retry-After", "1")
			handler.RespondError(c, logger, domain.NewRateLimitedError(limit, window))
			return
		}

		c.Next()
	}
}
