package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/klear-options/pkg/response"
	"golang.org/x/time/rate"
)

const (
	// UserIDKey is the gin context key holding the authenticated user
	UserIDKey = "userID"

	// SignatureHeader carries hex(HMAC-SHA256(secret, body)) on gateway webhooks
	SignatureHeader = "X-Signature"

	// InternalPermission grants access to the internal routes
	InternalPermission = "internal"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client and route family
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	// Configure limits per endpoint type
	authLimit    rate.Limit
	tradingLimit rate.Limit
	statusLimit  rate.Limit
}

// NewRateLimiter creates a limiter with the default per-route limits
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors:     make(map[string]*visitor),
		authLimit:    rate.Limit(10.0 / 60.0),   // 10 requests per minute
		tradingLimit: rate.Limit(100.0 / 60.0),  // 100 requests per minute
		statusLimit:  rate.Limit(1000.0 / 60.0), // 1000 requests per minute
	}
}

func (rl *RateLimiter) getLimiter(path, clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := clientID + ":" + path
	v, exists := rl.visitors[key]

	if !exists {
		var limit rate.Limit
		burst := 1
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = rl.authLimit
		case path == "/api/v1/orders":
			limit = rl.tradingLimit
			burst = 5
		case strings.HasPrefix(path, "/api/v1/orders"), strings.HasPrefix(path, "/api/v1/balance"):
			limit = rl.statusLimit
			burst = 20
		default:
			limit = rate.Inf // No limit for other paths
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, burst),
			lastSeen: time.Now(),
		}
		rl.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops visitors idle for longer than 3 minutes
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, v := range rl.visitors {
		if time.Since(v.lastSeen) > 3*time.Minute {
			delete(rl.visitors, key)
		}
	}
}

// Run cleans up old visitors every minute until ctx is done
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString(UserIDKey)
		if clientID == "" {
			clientID = c.ClientIP()
		}

		limiter := rl.getLimiter(c.FullPath(), clientID)
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and stores the user id in the context
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseBearer(c, secret)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}

		userID, _ := claims["user_id"].(string)
		c.Set("claims", claims)
		c.Set(UserIDKey, userID)

		c.Next()
	}
}

// InternalAuth only admits tokens carrying the internal permission
func InternalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseBearer(c, secret)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}

		if !hasPermission(claims, InternalPermission) {
			response.Forbidden(c, "Internal permission required")
			c.Abort()
			return
		}

		userID, _ := claims["user_id"].(string)
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// WebhookSignature verifies the HMAC signature of a gateway callback body
func WebhookSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			response.Forbidden(c, "Webhooks are disabled")
			c.Abort()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.BadRequest(c, "Unreadable request body")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		signature, err := hex.DecodeString(c.GetHeader(SignatureHeader))
		if err != nil || !hmac.Equal(signature, Sign(secret, body)) {
			response.Unauthorized(c, "Invalid webhook signature")
			c.Abort()
			return
		}

		c.Next()
	}
}

// Sign computes the webhook signature of body
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// UserID returns the authenticated user of the request
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func parseBearer(c *gin.Context, secret string) (jwt.MapClaims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("Authorization header required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
		return nil, fmt.Errorf("Invalid authorization header format")
	}

	token, err := jwt.Parse(bearerToken[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("Invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("Invalid token claims")
	}

	// Ensure required claims exist
	for _, claim := range []string{"user_id", "exp"} {
		if _, exists := claims[claim]; !exists {
			return nil, fmt.Errorf("Missing required claim: %s", claim)
		}
	}
	if userID, ok := claims["user_id"].(string); !ok || userID == "" {
		return nil, fmt.Errorf("Invalid user ID in token")
	}

	return claims, nil
}

func hasPermission(claims jwt.MapClaims, permission string) bool {
	raw, ok := claims["permissions"].([]interface{})
	if !ok {
		return false
	}
	perms := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok {
			perms = append(perms, s)
		}
	}
	return slices.Contains(perms, permission)
}
