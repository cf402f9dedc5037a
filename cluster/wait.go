package cluster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"
)

const (
	defaultStartupTimeout = 2 * time.Minute
	maxLogLineSize        = 1024 * 1024
)

// LogWaitStrategy reports readiness once a pattern has been seen a number of
// times in a process's log output. It keeps no state between calls.
type LogWaitStrategy struct {
	pattern     *regexp.Regexp
	occurrences int
	timeout     time.Duration
}

// NewLogMessageStrategy creates a strategy that waits for pattern, a
// case-sensitive regular expression matched against each line, to appear
// occurrences times. It fails if pattern does not compile.
func NewLogMessageStrategy(pattern string, occurrences int) (*LogWaitStrategy, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid ready pattern %q: %w", pattern, err)
	}
	if occurrences < 1 {
		occurrences = 1
	}
	return &LogWaitStrategy{
		pattern:     re,
		occurrences: occurrences,
		timeout:     defaultStartupTimeout,
	}, nil
}

// ForLogMessage is NewLogMessageStrategy for patterns known to be valid. It
// panics if pattern does not compile.
func ForLogMessage(pattern string, occurrences int) *LogWaitStrategy {
	w, err := NewLogMessageStrategy(pattern, occurrences)
	if err != nil {
		panic(err)
	}
	return w
}

// WithStartupTimeout sets the upper bound on Await
func (w *LogWaitStrategy) WithStartupTimeout(timeout time.Duration) *LogWaitStrategy {
	if timeout > 0 {
		w.timeout = timeout
	}
	return w
}

// Pattern returns the regular expression source
func (w *LogWaitStrategy) Pattern() string {
	return w.pattern.String()
}

// Occurrences returns the number of matches required
func (w *LogWaitStrategy) Occurrences() int {
	return w.occurrences
}

// Timeout returns the startup timeout
func (w *LogWaitStrategy) Timeout() time.Duration {
	return w.timeout
}

// Await scans r line by line and returns nil as soon as the pattern has
// matched the required number of times. It returns ErrReadinessTimeout once
// the timeout elapses, or once ctx's deadline passes first, and
// ErrLogStreamClosed if r ends first.
//
// The caller owns r. A timed out Await leaves its scanner blocked in Read
// until r is closed.
func (w *LogWaitStrategy) Await(ctx context.Context, r io.Reader) error {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	result := make(chan error, 1)
	go func() {
		result <- w.scan(r)
	}()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return fmt.Errorf("%w: %q not seen %d time(s) within %s",
			ErrReadinessTimeout, w.pattern.String(), w.occurrences, w.timeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %q not seen %d time(s) before the context deadline: %w",
				ErrReadinessTimeout, w.pattern.String(), w.occurrences, ctx.Err())
		}
		return ctx.Err()
	}
}

func (w *LogWaitStrategy) scan(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineSize)

	seen := 0
	for scanner.Scan() {
		if !w.pattern.MatchString(scanner.Text()) {
			continue
		}
		seen++
		if seen >= w.occurrences {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %v", ErrLogStreamClosed, err)
	}
	return fmt.Errorf("%w: %q seen %d of %d time(s)", ErrLogStreamClosed, w.pattern.String(), seen, w.occurrences)
}
