package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tracelens/tracelens/internal/apperr"
)

// staleClientAge is how long an idle client's bucket survives before the
// sweep reclaims it.
const staleClientAge = 3 * time.Minute

// RequestRateLimit applies a per-IP token bucket to the whole HTTP surface.
// This is transport protection; the insight generation path has its own
// fixed-window limiter with response headers.
func RequestRateLimit(rps, burst int) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastSweep = time.Now()
	)

	return func(c *gin.Context) {
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) > staleClientAge {
			for ip, cl := range clients {
				if now.Sub(cl.lastSeen) > staleClientAge {
					delete(clients, ip)
				}
			}
			lastSweep = now
		}

		ip := c.ClientIP()
		cl, ok := clients[ip]
		if !ok {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		limiter := cl.limiter
		mu.Unlock()

		if !limiter.Allow() {
			abortWith(c, apperr.New(apperr.CodeRateLimited, "request rate limit exceeded"))
			return
		}
		c.Next()
	}
}
