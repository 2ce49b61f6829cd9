package serve

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages per-client rate limiters
type RateLimiterPool struct {
	limiters          map[string]*rate.Limiter
	requestsPerMinute int
	maxClients        int
	mu                sync.Mutex
	logger            *slog.Logger
}

// defaultMaxClients bounds the number of tracked clients before the pool resets
const defaultMaxClients = 10000

// NewRateLimiterPool creates a pool granting each client requestsPerMinute
func NewRateLimiterPool(requestsPerMinute int, logger *slog.Logger) *RateLimiterPool {
	return &RateLimiterPool{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerMinute: requestsPerMinute,
		maxClients:        defaultMaxClients,
		logger:            logger,
	}
}

// burst allows 20% of the per-minute budget at once, at least 5
func (p *RateLimiterPool) burst() int {
	return max(5, p.requestsPerMinute/5)
}

// GetOrCreate returns the client's limiter, creating it on first use
func (p *RateLimiterPool) GetOrCreate(clientID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[clientID]; exists {
		return limiter
	}

	if len(p.limiters) >= p.maxClients {
		p.logger.Warn("Rate limiter pool full, resetting", "clients", len(p.limiters))
		p.limiters = make(map[string]*rate.Limiter)
	}

	// convert requests per minute to requests per second
	rps := float64(p.requestsPerMinute) / 60.0
	limiter := rate.NewLimiter(rate.Limit(rps), p.burst())
	p.limiters[clientID] = limiter

	p.logger.Debug("Created rate limiter",
		"client", clientID,
		"rpm", p.requestsPerMinute,
		"rps", rps,
		"burst", p.burst())

	return limiter
}

// Allow reports whether the client may make a request now. Predictions are
// rejected rather than queued.
func (p *RateLimiterPool) Allow(clientID string) bool {
	return p.GetOrCreate(clientID).Allow()
}
