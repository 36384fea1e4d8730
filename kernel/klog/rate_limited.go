package klog

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimited forwards log lines to a logrus logger no more often than a
// fixed rate. It is used for interrupt traffic that would otherwise flood
// the trace.
type RateLimited struct {
	logger logrus.FieldLogger
	limit  *rate.Limiter
}

// NewRateLimited returns a RateLimited that logs to logger at most once per
// the provided duration.
func NewRateLimited(logger logrus.FieldLogger, every time.Duration) *RateLimited {
	return &RateLimited{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// Debugf logs at debug level if the limiter allows it.
func (rl *RateLimited) Debugf(format string, args ...interface{}) {
	if rl.limit.Allow() {
		rl.logger.Debugf(format, args...)
	}
}

// Infof logs at info level if the limiter allows it.
func (rl *RateLimited) Infof(format string, args ...interface{}) {
	if rl.limit.Allow() {
		rl.logger.Infof(format, args...)
	}
}

// Warnf logs at warning level if the limiter allows it.
func (rl *RateLimited) Warnf(format string, args ...interface{}) {
	if rl.limit.Allow() {
		rl.logger.Warnf(format, args...)
	}
}
