// Package expect wraps testify assertions so every check in an end-to-end
// test also lands in the structured log, next to the browser and API steps
// that led to it.
package expect

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xkilldash9x/e2e-harness/internal/apiclient"
)

// Expect runs assertions against tb. A hard Expect stops the test on the
// first failure, the way require does; a soft one records the failure and
// continues, the way assert does. Hard checks must run on the test goroutine.
type Expect struct {
	tb     testing.TB
	logger *zap.Logger
	hard   bool
}

// New returns a hard Expect. A nil logger discards log output.
func New(tb testing.TB, logger *zap.Logger) *Expect {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expect{tb: tb, logger: logger.Named("expect"), hard: true}
}

// Soft returns a copy that keeps going after a failed assertion.
func (e *Expect) Soft() *Expect {
	c := *e
	c.hard = false
	return &c
}

// record logs the outcome and stops the test for hard failures.
func (e *Expect) record(name string, ok bool, fields ...zap.Field) bool {
	e.tb.Helper()
	fields = append(fields, zap.String("test", e.tb.Name()), zap.String("assertion", name))
	if ok {
		e.logger.Debug("Assertion passed.", fields...)
		return true
	}
	e.logger.Error("Assertion failed.", append(fields, zap.Bool("hard", e.hard))...)
	if e.hard {
		e.tb.FailNow()
	}
	return false
}

func (e *Expect) Equal(expected, actual any, msgAndArgs ...any) bool {
	e.tb.Helper()
	ok := assert.Equal(e.tb, expected, actual, msgAndArgs...)
	var fields []zap.Field
	if !ok {
		fields = append(fields, zap.String("diff", diff(expected, actual)))
	}
	return e.record("Equal", ok, fields...)
}

func (e *Expect) NotEqual(expected, actual any, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("NotEqual", assert.NotEqual(e.tb, expected, actual, msgAndArgs...))
}

func (e *Expect) True(value bool, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("True", assert.True(e.tb, value, msgAndArgs...))
}

func (e *Expect) False(value bool, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("False", assert.False(e.tb, value, msgAndArgs...))
}

func (e *Expect) Nil(object any, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("Nil", assert.Nil(e.tb, object, msgAndArgs...))
}

func (e *Expect) NotNil(object any, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("NotNil", assert.NotNil(e.tb, object, msgAndArgs...))
}

func (e *Expect) NoError(err error, msgAndArgs ...any) bool {
	e.tb.Helper()
	ok := assert.NoError(e.tb, err, msgAndArgs...)
	var fields []zap.Field
	if !ok {
		fields = append(fields, zap.Error(err))
	}
	return e.record("NoError", ok, fields...)
}

func (e *Expect) ErrorIs(err, target error, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("ErrorIs", assert.ErrorIs(e.tb, err, target, msgAndArgs...), zap.Error(err))
}

func (e *Expect) Contains(s, contains any, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("Contains", assert.Contains(e.tb, s, contains, msgAndArgs...))
}

func (e *Expect) Len(object any, length int, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("Len", assert.Len(e.tb, object, length, msgAndArgs...), zap.Int("want", length))
}

func (e *Expect) Empty(object any, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("Empty", assert.Empty(e.tb, object, msgAndArgs...))
}

func (e *Expect) NotEmpty(object any, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("NotEmpty", assert.NotEmpty(e.tb, object, msgAndArgs...))
}

func (e *Expect) JSONEq(expected, actual string, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("JSONEq", assert.JSONEq(e.tb, expected, actual, msgAndArgs...))
}

// Status checks that an API response has one of the given status codes.
func (e *Expect) Status(resp *apiclient.Response, codes ...int) bool {
	e.tb.Helper()
	if resp == nil {
		return e.record("Status", assert.Fail(e.tb, "nil response"))
	}
	err := resp.EnsureStatus(codes...)
	ok := assert.NoError(e.tb, err)
	fields := []zap.Field{
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", resp.RequestID),
		zap.String("url", resp.URL),
	}
	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) && len(codes) > 0 {
		fields = append(fields, zap.Ints("want", codes))
	}
	return e.record("Status", ok, fields...)
}

// Eventually polls cond every tick until it returns true or timeout elapses.
func (e *Expect) Eventually(cond func() bool, timeout, tick time.Duration, msgAndArgs ...any) bool {
	e.tb.Helper()
	return e.record("Eventually", assert.Eventually(e.tb, cond, timeout, tick, msgAndArgs...),
		zap.Duration("timeout", timeout))
}

func diff(expected, actual any) (d string) {
	// cmp panics on unexported struct fields.
	defer func() {
		if r := recover(); r != nil {
			d = fmt.Sprintf("- %#v\n+ %#v", expected, actual)
		}
	}()
	d = cmp.Diff(expected, actual)
	if d == "" {
		// Values of distinct types can compare unequal with no structural diff.
		return fmt.Sprintf("%T vs %T", expected, actual)
	}
	return d
}
