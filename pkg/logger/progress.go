package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker periodically logs how many rows a streaming pass has
// consumed. Totals are usually unknown up front, so rate is the main signal.
type ProgressTracker struct {
	logger      Logger
	operation   string
	current     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
	now         func() time.Time
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	start := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress").WithField("operation", config.Operation),
		operation:   config.Operation,
		startTime:   start,
		lastLogTime: start,
		logInterval: config.LogInterval,
		now:         time.Now,
	}

	tracker.logger.Debug("Starting pass")
	return tracker
}

// Increment counts one more row and logs when the interval has elapsed.
func (p *ProgressTracker) Increment() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	now := p.now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fieldsAt(now)).Info("Progress update")
		p.lastLogTime = now
	}
}

// Complete logs final statistics for the pass.
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithFields(p.fieldsAt(p.now())).Debug("Pass completed")
}

// Count returns the number of rows seen so far.
func (p *ProgressTracker) Count() int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.current
}

func (p *ProgressTracker) fieldsAt(now time.Time) Fields {
	elapsed := now.Sub(p.startTime)
	var rate float64
	if elapsed.Seconds() > 0 {
		rate = float64(p.current) / elapsed.Seconds()
	}
	return Fields{
		"rows":    p.current,
		"elapsed": elapsed.Round(time.Millisecond).String(),
		"rate":    fmt.Sprintf("%.2f/sec", rate),
	}
}

// TimedPass runs one pass over a source file and logs its outcome with the
// elapsed time. The error from fn is returned unchanged.
func TimedPass(log Logger, pass, path string, fn func() error) error {
	if log == nil {
		log = GetGlobalLogger()
	}
	entry := log.WithComponent("pass").WithFields(Fields{"pass": pass, "file_path": path})
	start := time.Now()
	entry.Debug("Pass started")

	err := fn()
	done := entry.WithField("duration", time.Since(start).Round(time.Millisecond).String())
	if err != nil {
		done.WithError(err).Error("Pass failed")
		return err
	}
	done.Info("Pass finished")
	return nil
}
