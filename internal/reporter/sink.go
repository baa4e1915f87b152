package reporter

import (
	"sync"

	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// DefaultDiagnosticLimit is how many diagnostics a run keeps before
// suppressing the rest.
const DefaultDiagnosticLimit = 5

// Sink receives recoverable problems found while importing. Engines report
// every occurrence; the sink decides what is retained.
type Sink interface {
	Report(err *errors.ImportError)
}

// BoundedSink keeps the first Limit diagnostics and counts the remainder.
// A limit of zero or less keeps everything.
type BoundedSink struct {
	mu         sync.Mutex
	limit      int
	messages   []string
	retained   []*errors.ImportError
	suppressed int
	log        logger.Logger
}

// NewBoundedSink returns a sink retaining at most limit messages. When log is
// non-nil, retained messages are logged at warn level and suppressed ones at
// debug level.
func NewBoundedSink(limit int, log logger.Logger) *BoundedSink {
	return &BoundedSink{limit: limit, log: log}
}

func (s *BoundedSink) Report(err *errors.ImportError) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry logger.Logger
	if s.log != nil {
		entry = s.log.WithFields(logger.Fields{
			"code":    err.Code,
			"context": err.Context,
		})
	}

	if s.limit > 0 && len(s.messages) >= s.limit {
		s.suppressed++
		if entry != nil {
			entry.WithField("suppressed", true).Debug(err.Message)
		}
		return
	}
	s.messages = append(s.messages, err.Message)
	s.retained = append(s.retained, err)
	if entry != nil {
		entry.Warn(err.Message)
	}
}

// Messages returns the retained messages in report order.
func (s *BoundedSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

// Count returns how many retained messages carry code.
func (s *BoundedSink) Count(code errors.ErrorCode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, err := range s.retained {
		if err.Code == code {
			n++
		}
	}
	return n
}

// Suppressed returns how many messages were dropped after the limit.
func (s *BoundedSink) Suppressed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed
}

// Summary groups the retained diagnostics by category and code.
func (s *BoundedSink) Summary() *errors.ErrorSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.NewErrorSummary(append([]*errors.ImportError(nil), s.retained...))
}

// Discard drops every diagnostic.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Report(*errors.ImportError) {}
