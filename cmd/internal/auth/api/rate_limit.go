package authapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"instant/cmd/identity"
	"instant/cmd/internal/httpx"
)

// MsgTooManyAttempts is returned while a login is throttled.
const MsgTooManyAttempts = "too many attempts"

// maxTrackedKeys bounds the throttle maps; beyond it stale keys are swept on write.
const maxTrackedKeys = 10_000

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// loginThrottle tracks failed logins per client IP (sliding window) and per
// identifier (progressive lockout). State is process-local.
type loginThrottle struct {
	cfg   Config
	tiers []lockoutTier

	mu          sync.Mutex
	ipFailures  map[string][]time.Time
	idFailures  map[string][]time.Time
	lockedUntil map[string]time.Time
}

func newLoginThrottle(cfg Config) *loginThrottle {
	return &loginThrottle{
		cfg:         cfg,
		tiers:       cfg.lockoutTiers(),
		ipFailures:  make(map[string][]time.Time),
		idFailures:  make(map[string][]time.Time),
		lockedUntil: make(map[string]time.Time),
	}
}

// check reports whether a login from ip for identifier must be refused now.
func (t *loginThrottle) check(ip net.IP, identifier string, now time.Time) (bool, time.Duration) {
	if t == nil {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != nil {
		if blocked, retry := evaluateWindowThrottle(now, t.ipFailures[ip.String()], t.cfg.LoginIPMax, t.cfg.LoginIPWindow); blocked {
			return true, retry
		}
	}
	if key := identifierKey(identifier); key != "" {
		if until, ok := t.lockedUntil[key]; ok {
			if now.Before(until) {
				return true, until.Sub(now)
			}
			delete(t.lockedUntil, key)
		}
	}
	return false, 0
}

// recordFailure counts a failed login and may lock the identifier.
func (t *loginThrottle) recordFailure(ip net.IP, identifier string, now time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != nil {
		k := ip.String()
		t.ipFailures[k] = prependRecent(t.ipFailures[k], now, t.cfg.LoginIPWindow)
	}
	if key := identifierKey(identifier); key != "" {
		failures := prependRecent(t.idFailures[key], now, t.cfg.LoginUserWindow)
		t.idFailures[key] = failures
		if blocked, retry := evaluateProgressiveLockout(now, failures, t.tiers); blocked {
			t.lockedUntil[key] = now.Add(retry)
		}
	}

	if len(t.ipFailures)+len(t.idFailures) > maxTrackedKeys {
		t.sweepLocked(now)
	}
}

// recordSuccess forgets the identifier's failures.
func (t *loginThrottle) recordSuccess(identifier string) {
	if t == nil {
		return
	}
	key := identifierKey(identifier)
	t.mu.Lock()
	delete(t.idFailures, key)
	delete(t.lockedUntil, key)
	t.mu.Unlock()
}

func (t *loginThrottle) sweepLocked(now time.Time) {
	for k, v := range t.ipFailures {
		if len(v) == 0 || now.Sub(v[0]) >= t.cfg.LoginIPWindow {
			delete(t.ipFailures, k)
		}
	}
	for k, v := range t.idFailures {
		if len(v) == 0 || now.Sub(v[0]) >= t.cfg.LoginUserWindow {
			delete(t.idFailures, k)
		}
	}
	for k, until := range t.lockedUntil {
		if !now.Before(until) {
			delete(t.lockedUntil, k)
		}
	}
}

// prependRecent returns failures (newest first) with now added and entries
// older than window dropped.
func prependRecent(failures []time.Time, now time.Time, window time.Duration) []time.Time {
	out := make([]time.Time, 0, len(failures)+1)
	out = append(out, now)
	for _, f := range failures {
		if now.Sub(f) < window {
			out = append(out, f)
		}
	}
	return out
}

// evaluateWindowThrottle blocks once maxFailures failures fall inside window. The
// retry is the time until the oldest in-window failure leaves it.
func evaluateWindowThrottle(now time.Time, failures []time.Time, maxFailures int, window time.Duration) (bool, time.Duration) {
	if maxFailures <= 0 || window <= 0 {
		return false, 0
	}
	var (
		count  int
		oldest time.Time
	)
	for _, f := range failures {
		if now.Sub(f) >= window {
			continue
		}
		count++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}
	if count < maxFailures {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

// evaluateProgressiveLockout picks the first tier (highest threshold first)
// whose threshold is reached and whose lock, counted from the latest
// failure, has not yet run out.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}
	for _, tier := range tiers {
		if tier.Threshold <= 0 || len(failures) < tier.Threshold {
			continue
		}
		if until := latest.Add(tier.Duration); until.After(now) {
			return true, until.Sub(now)
		}
	}
	return false, 0
}

func identifierKey(identifier string) string {
	return identity.NormalizeUsername(identifier)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	httpx.WriteError(w, http.StatusTooManyRequests, MsgTooManyAttempts)
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
