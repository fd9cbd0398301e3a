package cache

import "fmt"

// RateLimitKey is the counter key for one client of a throttled route.
func RateLimitKey(scope, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, client)
}
