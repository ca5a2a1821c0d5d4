// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// addressLimiter enforces a per-seller hourly build budget. Limiters are
// created lazily per address and refill continuously over the hour.
type addressLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perHour  int
}

func newAddressLimiter(perHour int) *addressLimiter {
	return &addressLimiter{
		limiters: make(map[string]*rate.Limiter),
		perHour:  perHour,
	}
}

// Allow reports whether the address still has build budget this hour.
func (l *addressLimiter) Allow(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[address]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(l.perHour)/3600), l.perHour)
		l.limiters[address] = limiter
	}

	return limiter.Allow()
}
