package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Exit codes reported by the CLI.
const (
	ExitOK                 = 0
	ExitGeneral            = 1
	ExitValidation         = 2
	ExitAuth               = 5
	ExitConfig             = 7
	ExitClone              = 8
	ExitWorkspaceBusy      = 9
	ExitInternal           = 10
	ExitDaemon             = 12
	ExitFineTune           = 20
	ExitInferenceAssertion = 21
	ExitCanceled           = 130
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	out     io.Writer
	exit    func(int)
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
		out:     os.Stderr,
		exit:    os.Exit,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int { return ExitCode(err) }

// ExitCode maps an error to the process exit code reported for it.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	ce, ok := AsClassified(err)
	if !ok {
		return ExitGeneral
	}

	switch ce.Kind {
	case KindMalformedReference:
		return ExitValidation
	case KindClone:
		if ce.Category == CategoryAuth {
			return ExitAuth
		}
		return ExitClone
	case KindFineTune:
		return ExitFineTune
	case KindInferenceAssertion:
		return ExitInferenceAssertion
	case KindWorkspaceBusy:
		return ExitWorkspaceBusy
	case KindCanceled:
		return ExitCanceled
	case KindConfig:
		return ExitConfig
	}

	switch ce.Category {
	case CategoryValidation, CategoryTrigger:
		return ExitValidation
	case CategoryConfig:
		return ExitConfig
	case CategoryAuth:
		return ExitAuth
	case CategoryNetwork, CategoryGit:
		return ExitClone
	case CategoryDaemon, CategoryStore:
		return ExitDaemon
	case CategoryInternal:
		return ExitInternal
	default:
		return ExitGeneral
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	ce, ok := AsClassified(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}
	if a.verbose {
		return ce.Error()
	}

	switch ce.Category {
	case CategoryConfig, CategoryValidation, CategoryTrigger:
		return ce.Message
	default:
		return fmt.Sprintf("%s: %s", ce.Category, ce.Message)
	}
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	exitCode := a.ExitCodeFor(err)
	if a.shouldLog(err) {
		a.logError(err)
	}

	_, _ = fmt.Fprintf(a.out, "%s\n", a.FormatError(err))
	a.exit(exitCode)
}

func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}
	if ce, ok := AsClassified(err); ok {
		return ce.Category == CategoryInternal || ce.Severity == SeverityFatal
	}
	return true
}

func (a *CLIErrorAdapter) logError(err error) {
	ce, ok := AsClassified(err)
	if !ok {
		a.logger.Error("Unclassified error", "error", err)
		return
	}

	attrs := []slog.Attr{slog.String("category", string(ce.Category))}
	if ce.Kind != KindNone {
		attrs = append(attrs, slog.String("kind", string(ce.Kind)))
	}
	if ce.Retryable {
		attrs = append(attrs, slog.Bool("retryable", true))
	}
	for k, v := range ce.Context {
		attrs = append(attrs, slog.Any(k, v))
	}
	a.logger.LogAttrs(context.Background(), slogLevel(ce.Severity), ce.Message, attrs...)
}

func slogLevel(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
