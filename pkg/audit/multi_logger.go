package audit

import (
	"context"
	"fmt"
	"sync"
)

// MultiLogger fans audit events out to several sinks. Fan-out is
// asynchronous by default so a slow sink never stalls the request path;
// SetAsync(false) makes Log block until every sink has written.
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiLogger creates a logger writing to every given destination.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		async:   true,
		errChan: make(chan error, len(loggers)),
	}
}

// SetAsync toggles asynchronous fan-out. Call before the first Log.
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// each runs fn for every sink and reports the first error.
func (m *MultiLogger) each(fn func(Logger) error) error {
	var first error
	for _, logger := range m.loggers {
		if err := fn(logger); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Log records the event in all configured sinks.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	if len(m.loggers) == 0 {
		return nil
	}
	if !m.async {
		return m.each(func(l Logger) error { return l.Log(ctx, event) })
	}

	// Detach from the request context so in-flight writes survive the
	// handler returning.
	detached := context.WithoutCancel(ctx)
	for _, logger := range m.loggers {
		m.wg.Add(1)
		go func(l Logger) {
			defer m.wg.Done()
			if err := l.Log(detached, event); err != nil {
				select {
				case m.errChan <- err:
				default:
					// Channel full, drop the error.
				}
			}
		}(logger)
	}
	return nil
}

// Wait blocks until all async writes have finished.
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Errors drains the errors collected from async writes so far.
func (m *MultiLogger) Errors() []error {
	var drained []error
	for {
		select {
		case err := <-m.errChan:
			drained = append(drained, err)
		default:
			return drained
		}
	}
}

// Close waits for pending writes, then closes every sink.
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	err := m.each(func(l Logger) error {
		if cerr := l.Close(); cerr != nil {
			return fmt.Errorf("failed to close logger: %w", cerr)
		}
		return nil
	})

	close(m.errChan)
	return err
}
