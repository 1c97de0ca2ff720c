package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter in-memory реализация rate limiter (sliding window)
type MemoryLimiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	config  *Config
	stopCh  chan struct{}
	closed  bool
}

type window struct {
	requests []time.Time
	lastSeen time.Time
}

// NewMemoryLimiter создаёт in-memory rate limiter
func NewMemoryLimiter(cfg *Config) *MemoryLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &MemoryLimiter{
		windows: make(map[string]*window),
		config:  cfg,
		stopCh:  make(chan struct{}),
	}

	go l.cleanup()

	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.AllowN(ctx, key, 1)
}

func (l *MemoryLimiter) AllowN(ctx context.Context, key string, n int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, ErrLimiterClosed
	}

	w, ok := l.windows[key]
	if !ok {
		w = &window{requests: make([]time.Time, 0)}
		l.windows[key] = w
	}

	now := time.Now()
	w.lastSeen = now
	windowStart := now.Add(-l.config.Window)

	// Удаляем устаревшие запросы
	valid := w.requests[:0]
	for _, t := range w.requests {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	w.requests = valid

	if len(w.requests)+n <= l.config.Requests {
		for i := 0; i < n; i++ {
			w.requests = append(w.requests, now)
		}
		return true, nil
	}

	return false, nil
}

func (l *MemoryLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.windows, key)
	return nil
}

func (l *MemoryLimiter) GetInfo(ctx context.Context, key string) (*LimitInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.windows[key]
	if !ok {
		return &LimitInfo{
			Limit:     l.config.Requests,
			Remaining: l.config.Requests,
			ResetAt:   time.Now().Add(l.config.Window),
		}, nil
	}

	windowStart := time.Now().Add(-l.config.Window)
	count := 0
	for _, t := range w.requests {
		if t.After(windowStart) {
			count++
		}
	}

	remaining := l.config.Requests - count
	if remaining < 0 {
		remaining = 0
	}

	info := &LimitInfo{
		Limit:     l.config.Requests,
		Remaining: remaining,
		ResetAt:   time.Now().Add(l.config.Window),
	}
	if remaining == 0 && count > 0 {
		// До выхода самого старого запроса из окна
		info.RetryAfter = l.config.Window - time.Since(w.requests[0])
	}

	return info, nil
}

func (l *MemoryLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	close(l.stopCh)
	l.windows = nil

	return nil
}

func (l *MemoryLimiter) cleanup() {
	interval := l.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.doCleanup()
		}
	}
}

func (l *MemoryLimiter) doCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	cutoff := time.Now().Add(-l.config.Window * 2) // Храним 2x window

	for key, w := range l.windows {
		if w.lastSeen.Before(cutoff) {
			delete(l.windows, key)
		}
	}
}
