package jit

import (
	"testing"

	"github.com/rom4s/sourcepawn/pkg/env"
	cerrors "github.com/rom4s/sourcepawn/pkg/errors"
)

// TestInvokeReportErrorForwardsCode covers spec §8's "Divide by zero at
// runtime" scenario at the Go-boundary level: the runtime receives the
// error code the emitted report_error tail would have loaded.
func TestInvokeReportErrorForwardsCode(t *testing.T) {
	e := env.New()
	InvokeReportError(e, cerrors.DivideByZero)

	code, count := e.LastReport()
	if code != cerrors.DivideByZero || count != 1 {
		t.Errorf("LastReport() = (%v, %d), want (%v, 1)", code, count, cerrors.DivideByZero)
	}
}

// TestInvokeReportTimeoutNotifiesWatchdogBeforeReporting covers spec
// §4.5: the throw_timeout tail must unblock the watchdog and report
// SP_ERROR_TIMEOUT.
func TestInvokeReportTimeoutNotifiesWatchdogBeforeReporting(t *testing.T) {
	e := env.New()
	w := e.Watchdog.(*env.SimpleWatchdog)
	w.RequestTimeout()

	InvokeReportTimeout(e)

	if !w.HandleInterrupt() {
		t.Error("expected the watchdog's pending timeout to be cleared")
	}
	code, count := e.LastReport()
	if code != cerrors.Timeout || count != 1 {
		t.Errorf("LastReport() = (%v, %d), want (%v, 1)", code, count, cerrors.Timeout)
	}
}
