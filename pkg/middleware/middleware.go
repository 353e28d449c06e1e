package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openleague/gavel-api/internal/auth"
	"github.com/openleague/gavel-api/pkg/response"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type
	authLimit  = rate.Limit(10.0 / 60.0)  // 10 requests per minute
	bidLimit   = rate.Limit(300.0 / 60.0) // 300 requests per minute, bids are bursty
	stateLimit = rate.Limit(1000.0 / 60.0)
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, method, clientID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientID + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasSuffix(path, "/bids"):
			limit = bidLimit
		case method == "GET":
			limit = stateLimit
		default:
			limit = rate.Inf
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 5),
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("participantID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), c.Request.Method, clientID)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and stores the participant
// identity and role in the request context.
func JWTAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}
		if claims.ParticipantID == "" {
			response.Unauthorized(c, "Missing participant identity in token")
			c.Abort()
			return
		}

		c.Set("participantID", claims.ParticipantID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// CommissionerOnly gates privileged lifecycle endpoints. Must run after
// JWTAuth. The engine additionally checks the actor against the
// auction's own commissioner.
func CommissionerOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != auth.RoleCommissioner {
			response.Forbidden(c, "Commissioner role required")
			c.Abort()
			return
		}
		c.Next()
	}
}
