package web

import (
	"sync"

	"golang.org/x/time/rate"
)

// TenantLimiter keeps one token bucket per tenant.
type TenantLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewTenantLimiter allows perSecond requests per tenant with the given burst. A non-positive
// perSecond disables limiting.
func NewTenantLimiter(perSecond float64, burst int) *TenantLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}

	if burst < 1 {
		burst = 1
	}

	return &TenantLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *TenantLimiter) Allow(tenantID string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()

	limiter, ok := l.limiters[tenantID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[tenantID] = limiter
	}

	l.mu.Unlock()

	return limiter.Allow()
}
