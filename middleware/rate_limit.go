package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

type accountLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WalletRateLimit applies a per-account token bucket to balance-mutating
// endpoints. Limiters idle for an hour are dropped to bound memory.
func WalletRateLimit(perMinute int) fiber.Handler {
	if perMinute < 1 {
		perMinute = 1
	}
	r := rate.Every(time.Minute / time.Duration(perMinute))
	burst := perMinute/2 + 1

	var (
		mu       sync.Mutex
		limiters = map[string]*accountLimiter{}
	)

	// Eviction sweep for idle buckets.
	go func() {
		for range time.Tick(10 * time.Minute) {
			mu.Lock()
			for id, al := range limiters {
				if time.Since(al.lastSeen) > time.Hour {
					delete(limiters, id)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *fiber.Ctx) error {
		key, _ := c.Locals("user_id").(string)
		if key == "" {
			key = c.IP()
		}

		mu.Lock()
		al, ok := limiters[key]
		if !ok {
			al = &accountLimiter{limiter: rate.NewLimiter(r, burst)}
			limiters[key] = al
		}
		al.lastSeen = time.Now()
		allowed := al.limiter.Allow()
		mu.Unlock()

		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "RateLimited",
			})
		}
		return c.Next()
	}
}
