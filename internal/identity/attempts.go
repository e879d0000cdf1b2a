package identity

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// attemptLimiter はメールアドレスごとのログイン試行回数を制限する。
// 成功したログインはそのアドレスの記録を消す。
type attemptLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*attemptEntry
	now      func() time.Time
}

type attemptEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// attemptTTL を超えて参照されていない記録は次回の参照時に破棄する。
const attemptTTL = 10 * time.Minute

func newAttemptLimiter(perMinute int) *attemptLimiter {
	return &attemptLimiter{
		perMin:   perMinute,
		limiters: make(map[string]*attemptEntry),
		now:      time.Now,
	}
}

// allow は試行を1回消費し、上限内であればtrueを返す。
func (a *attemptLimiter) allow(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.sweep(now)

	entry, ok := a.limiters[key]
	if !ok {
		entry = &attemptEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(a.perMin)), a.perMin),
		}
		a.limiters[key] = entry
	}
	entry.lastAccess = now
	return entry.limiter.AllowN(now, 1)
}

func (a *attemptLimiter) reset(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.limiters, key)
}

func (a *attemptLimiter) sweep(now time.Time) {
	for key, entry := range a.limiters {
		if now.Sub(entry.lastAccess) > attemptTTL {
			delete(a.limiters, key)
		}
	}
}
