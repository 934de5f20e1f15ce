package jit

import (
	"github.com/rom4s/sourcepawn/pkg/env"
	cerrors "github.com/rom4s/sourcepawn/pkg/errors"
)

// InvokeReportError is the Go-side helper env.ReportErrorAddr conceptually
// routes to: it forwards the error code the emitted report_error tail
// loaded into its argument register to the environment's sink (spec
// §4.4), mirroring CompilerBase::InvokeReportError in the original.
func InvokeReportError(e *env.Environment, code cerrors.Code) {
	e.ReportError(code)
}

// InvokeReportTimeout is the Go-side helper env.ReportTimeoutAddr
// conceptually routes to: it unblocks the watchdog before reporting the
// timeout as an error (spec §4.5), mirroring
// CompilerBase::InvokeReportTimeout in the original.
func InvokeReportTimeout(e *env.Environment) {
	e.Watchdog.NotifyTimeoutReceived()
	InvokeReportError(e, cerrors.Timeout)
}
