package types

import (
	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/samber/lo"
)

type RunMode string

const (
	// ModeLocal is the mode for running the engine embedded in local tooling
	ModeLocal RunMode = "local"
	// ModeCLI is the mode for the standalone reconcile command
	ModeCLI RunMode = "cli"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (l LogLevel) String() string {
	return string(l)
}

func (l LogLevel) Validate() error {
	allowed := []LogLevel{
		LogLevelDebug,
		LogLevelInfo,
		LogLevelWarn,
		LogLevelError,
	}
	if !lo.Contains(allowed, l) {
		return ierr.NewError("invalid log level").
			WithHint("Please provide a valid log level").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
