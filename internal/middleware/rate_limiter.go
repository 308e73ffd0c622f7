package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter limits each client IP to perMinute requests per minute, allowing
// a burst of the same size.
func RateLimiter(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		perMinute = 60
	}
	config := middleware.RateLimiterConfig{
		// In-memory store; fine for a single relay instance.
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(perMinute) / 60),
			Burst:     perMinute,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"code":    http.StatusText(http.StatusTooManyRequests),
				"message": "Too many requests. Please try again later.",
			})
		},
	}
	return middleware.RateLimiterWithConfig(config)
}
