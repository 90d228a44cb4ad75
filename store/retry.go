package store

import (
	"math/rand"
	"strings"
	"time"

	"github.com/timewave-computer/causality-sub016/logger"
)

// retryConfig bounds retries of transient SQLite errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  20 * time.Millisecond,
	maxDelay:   250 * time.Millisecond,
}

// isTransient reports whether err is a busy or locked condition that clears
// once the other connection finishes.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

// retryOp runs fn until it succeeds, fails permanently, or runs out of
// attempts. Delays grow exponentially with jitter.
func retryOp(cfg retryConfig, fn func() error) error {
	var err error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if err = fn(); err == nil || !isTransient(err) {
			return err
		}
		if attempt < cfg.maxRetries {
			logger.Logger().Debug().Int("attempt", attempt+1).Err(err).Msg("retrying store operation")
			time.Sleep(backoffDelay(cfg, attempt))
		}
	}
	return err
}

func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
