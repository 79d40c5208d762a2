package service

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"fileglancer/config"
	"fileglancer/fileproxy"
	"fileglancer/logutils"
	"fileglancer/response"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	ctxRequestID = "x-request-id"
	ctxUsername  = "x-username"
)

// RequestID tags every request and response with an id, reusing the caller's.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(fileproxy.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(fileproxy.RequestIDHeader, id)
		c.Next()
	}
}

func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logutils.Log.WithFields(logutils.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"bytes":       c.Writer.Size(),
			"remote_ip":   c.ClientIP(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  c.GetString(ctxRequestID),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("http request")
		case status >= http.StatusBadRequest:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

// AuthMiddleware requires a bearer token and stores its username in the context.
func (s *Server) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, err := s.CheckJWTToken(c)
		if err != nil {
			code := response.InvalidToken
			switch {
			case errors.Is(err, errMissingToken):
				code = response.MissingToken
			case errors.Is(err, jwt.ErrTokenExpired):
				code = response.TokenExpired
			}
			response.UnauthorizedError(c, err.Error(), code)
			return
		}
		c.Set(ctxUsername, username)
		c.Next()
	}
}

var errMissingToken = errors.New("missing bearer token")

func (s *Server) CheckJWTToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errMissingToken
	}
	return s.Tokens.CheckToken(token)
}

func currentUser(c *gin.Context) string {
	return c.GetString(ctxUsername)
}

// limiter is one client's token bucket.
type limiter struct {
	*rate.Limiter
	lastSeen time.Time
}

// ipLimiter keeps a token bucket per client address.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiter
	rps     rate.Limit
	burst   int
	idle    time.Duration
}

// sweepAt bounds how many idle clients accumulate before a sweep.
const sweepAt = 4096

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.clients) >= sweepAt {
		for k, v := range l.clients {
			if now.Sub(v.lastSeen) > l.idle {
				delete(l.clients, k)
			}
		}
	}
	c, ok := l.clients[ip]
	if !ok {
		c = &limiter{Limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.AllowN(now, 1)
}

// RateLimit throttles each client address of the public file endpoint. A zero
// rate disables it.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	l := &ipLimiter{
		clients: map[string]*limiter{},
		rps:     rate.Limit(cfg.RequestsPerSecond),
		burst:   int(max(cfg.Burst, 1)),
		idle:    10 * time.Minute,
	}
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP(), time.Now()) {
			fileproxy.WriteError(c.Writer, c.Request, fileproxy.CodeServiceUnavailable,
				"Please reduce your request rate", c.Request.URL.Path)
			c.Abort()
			return
		}
		c.Next()
	}
}
