package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/agriquest/authcore/pkg/httpx"
)

var (
	ErrRateLimited       = errors.New("rate_limited")
	ErrIdentifierBlocked = errors.New("identifier_blocked")
)

// LimitClass selects which admission budget a request draws from.
type LimitClass string

const (
	LimitLogin         LimitClass = "login"
	LimitRegister      LimitClass = "register"
	LimitPasswordReset LimitClass = "password_reset"
	LimitOTP           LimitClass = "otp"
	LimitAPI           LimitClass = "api"
	LimitGeneral       LimitClass = "general"
)

// LimitConfig is one class's sliding-window budget.
type LimitConfig struct {
	Limit  int
	Window time.Duration
}

// DefaultLimits returns the per-class budgets. Classes are fixed per
// deployment, not per caller.
func DefaultLimits() map[LimitClass]LimitConfig {
	return map[LimitClass]LimitConfig{
		LimitLogin:         {Limit: 5, Window: 5 * time.Minute},
		LimitRegister:      {Limit: 3, Window: time.Hour},
		LimitPasswordReset: {Limit: 3, Window: time.Hour},
		LimitOTP:           {Limit: 5, Window: 5 * time.Minute},
		LimitAPI:           {Limit: 100, Window: time.Minute},
		LimitGeneral:       {Limit: 1000, Window: time.Hour},
	}
}

// Decision is the outcome of one admission check. Denial is a value here, not
// an error; callers translate it to 429s or sentinel errors as they see fit.
type Decision struct {
	Allowed     bool
	Limit       int
	Remaining   int
	ResetAt     time.Time
	RetryAfter  time.Duration
	Blocked     bool
	Whitelisted bool
}

const (
	// suspicionBlockThreshold is how many marks trigger an automatic block.
	suspicionBlockThreshold = 5

	// suspicionBlockDuration is how long an auto-block lasts.
	suspicionBlockDuration = 2 * time.Hour
)

// RateLimiter admits or denies requests per (identifier, class) over a
// sliding window. Identifiers are "user:<id>" or "ip:<addr>", never mixed.
//
// Suspicion marks halve the identifier's effective limit (floor 1), and
// enough marks block it outright for a while. Denials themselves add a mark,
// so a client hammering a closed door digs itself in deeper.
type RateLimiter struct {
	Counters CounterStore
	Limits   map[LimitClass]LimitConfig

	// Now is the clock, injectable for tests. Nil means time.Now.
	Now func() time.Time

	mu           sync.Mutex
	suspicion    map[string]int
	blockedUntil map[string]time.Time
	whitelist    map[string]struct{}
}

func NewRateLimiter(counters CounterStore) *RateLimiter {
	return &RateLimiter{
		Counters:     counters,
		Limits:       DefaultLimits(),
		suspicion:    make(map[string]int),
		blockedUntil: make(map[string]time.Time),
		whitelist:    make(map[string]struct{}),
	}
}

func (rl *RateLimiter) now() time.Time {
	if rl.Now != nil {
		return rl.Now()
	}
	return time.Now()
}

func (rl *RateLimiter) config(class LimitClass) LimitConfig {
	if cfg, ok := rl.Limits[class]; ok {
		return cfg
	}
	return rl.Limits[LimitGeneral]
}

// Allow runs one admission check and records the hit. Recording happens even
// for denied requests, so sustained hammering keeps the window full.
func (rl *RateLimiter) Allow(ctx context.Context, identifier string, class LimitClass) Decision {
	now := rl.now()
	cfg := rl.config(class)

	rl.mu.Lock()
	_, whitelisted := rl.whitelist[identifier]
	until, blocked := rl.blockedUntil[identifier]
	if blocked && !now.Before(until) {
		delete(rl.blockedUntil, identifier)
		blocked = false
	}
	marks := rl.suspicion[identifier]
	rl.mu.Unlock()

	if whitelisted {
		return Decision{
			Allowed:     true,
			Limit:       cfg.Limit,
			Remaining:   cfg.Limit,
			ResetAt:     now.Add(cfg.Window),
			Whitelisted: true,
		}
	}

	if blocked {
		return Decision{
			Blocked:    true,
			Limit:      cfg.Limit,
			ResetAt:    until,
			RetryAfter: until.Sub(now),
		}
	}

	limit := cfg.Limit
	if marks > 0 {
		limit /= 2
		if limit < 1 {
			limit = 1
		}
	}

	key := fmt.Sprintf("%s:%s", class, identifier)
	count, oldest, err := rl.Counters.Hit(ctx, key, cfg.Window, now)
	if err != nil {
		// Counter stores degrade internally; an error here means even the
		// fallback failed. Fail open rather than lock everyone out.
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   now.Add(cfg.Window),
		}
	}

	resetAt := now.Add(cfg.Window)
	if !oldest.IsZero() {
		resetAt = oldest.Add(cfg.Window)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = resetAt.Sub(now)
		rl.MarkSuspicious(identifier)
	}
	return d
}

// MarkSuspicious adds one mark against the identifier. Crossing the threshold
// blocks it automatically.
func (rl *RateLimiter) MarkSuspicious(identifier string) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.suspicion[identifier]++
	if rl.suspicion[identifier] >= suspicionBlockThreshold {
		rl.blockedUntil[identifier] = now.Add(suspicionBlockDuration)
	}
}

// SuspicionMarks reports the identifier's current mark count.
func (rl *RateLimiter) SuspicionMarks(identifier string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.suspicion[identifier]
}

// ClearSuspicion drops all marks for the identifier. Administrative action;
// it does not lift an active block.
func (rl *RateLimiter) ClearSuspicion(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.suspicion, identifier)
}

// Block denies the identifier for the given duration regardless of budgets.
func (rl *RateLimiter) Block(identifier string, d time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.blockedUntil[identifier] = rl.now().Add(d)
}

// Unblock lifts a block early.
func (rl *RateLimiter) Unblock(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.blockedUntil, identifier)
}

// IsBlocked reports whether the identifier is currently blocked.
func (rl *RateLimiter) IsBlocked(identifier string) bool {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	until, ok := rl.blockedUntil[identifier]
	return ok && now.Before(until)
}

// AddToWhitelist exempts the identifier from all admission checks.
func (rl *RateLimiter) AddToWhitelist(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.whitelist[identifier] = struct{}{}
}

// RemoveFromWhitelist re-subjects the identifier to admission checks.
func (rl *RateLimiter) RemoveFromWhitelist(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.whitelist, identifier)
}

// ClientIdentifier derives the admission identifier for a request:
// "user:<id>" once authenticated, "ip:<addr>" before that. The two spaces are
// deliberately disjoint so a NAT'd classroom doesn't share a signed-in user's
// budget.
func (rl *RateLimiter) ClientIdentifier(r *http.Request) string {
	if userID := httpx.UserIDFromContext(r.Context()); userID != "" {
		return "user:" + userID
	}
	return "ip:" + httpx.ClientIP(r)
}

// CleanupExpired drops expired blocks and fully aged-out counter buckets.
// Idempotent.
func (rl *RateLimiter) CleanupExpired(ctx context.Context) error {
	now := rl.now()

	rl.mu.Lock()
	for id, until := range rl.blockedUntil {
		if !now.Before(until) {
			delete(rl.blockedUntil, id)
		}
	}
	var widest time.Duration
	for _, cfg := range rl.Limits {
		if cfg.Window > widest {
			widest = cfg.Window
		}
	}
	rl.mu.Unlock()

	return rl.Counters.CleanupExpired(ctx, widest, now)
}
