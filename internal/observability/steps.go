package observability

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunID returns the identifier for this process run, creating it on first use.
func RunID() string {
	if id, ok := runID.Load().(string); ok {
		return id
	}
	id := uuid.NewString()
	if runID.CompareAndSwap(nil, id) {
		return id
	}
	return runID.Load().(string)
}

// ForTest returns a child of the global logger named after the running test.
// Subtest separators become dots so the console encoder prints
// "harness.TestLogin.invalid_password.".
func ForTest(tb testing.TB) *zap.Logger {
	tb.Helper()
	name := strings.ReplaceAll(tb.Name(), "/", ".")
	return GetLogger().Named(name)
}

// Step runs fn as a named test step, logging its start, outcome and duration.
// The error returned by fn is passed through, wrapped with the step name.
func Step(ctx context.Context, logger *zap.Logger, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	logger.Info("Step started.", zap.String("step", name))

	err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("Step failed.", zap.String("step", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return fmt.Errorf("step %q: %w", name, err)
	}

	logger.Info("Step passed.", zap.String("step", name), zap.Duration("elapsed", elapsed))
	return nil
}
