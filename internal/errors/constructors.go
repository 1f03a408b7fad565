package errors

import "fmt"

// Convenience functions for the job error taxonomy.

// MalformedReference reports a triggering reference that is not refs/heads/<name>.
func MalformedReference(ref string) *ClassifiedError {
	return New(CategoryTrigger, SeverityFatal, fmt.Sprintf("malformed reference %q: expected refs/heads/<branch>", ref)).
		WithKind(KindMalformedReference).
		WithContext("ref", ref)
}

// CloneFailed reports a checkout failure. The category narrows the cause
// (auth, network, git) while the kind stays KindClone.
func CloneFailed(category ErrorCategory, url, branch string, cause error) *ClassifiedError {
	return Wrap(cause, category, SeverityFatal, "repository clone failed").
		WithKind(KindClone).
		WithContext("url", url).
		WithContext("branch", branch)
}

// CloneTransient reports a checkout failure that may succeed when retried.
func CloneTransient(url, branch string, cause error) *ClassifiedError {
	return WrapRetryable(cause, CategoryNetwork, SeverityWarning, "repository clone failed (transient)").
		WithKind(KindClone).
		WithContext("url", url).
		WithContext("branch", branch)
}

// FineTuneFailed reports a non-zero exit (or start failure) of the fine-tune entry point.
func FineTuneFailed(exitCode int, cause error) *ClassifiedError {
	msg := fmt.Sprintf("fine-tune entry point exited with code %d", exitCode)
	return Wrap(cause, CategoryFineTune, SeverityFatal, msg).
		WithKind(KindFineTune).
		WithContext("exit_code", exitCode)
}

// InferenceAssertionFailed reports a failed smoke test.
func InferenceAssertionFailed(exitCode int, reason string, cause error) *ClassifiedError {
	return Wrap(cause, CategoryInference, SeverityFatal, reason).
		WithKind(KindInferenceAssertion).
		WithContext("exit_code", exitCode)
}

// WorkspaceBusy reports that another job holds the runner workspace.
func WorkspaceBusy(path, holder string) *ClassifiedError {
	return New(CategoryWorkspace, SeverityFatal, "workspace is held by another job").
		WithKind(KindWorkspaceBusy).
		WithContext("path", path).
		WithContext("holder", holder)
}

// WorkspaceError reports a filesystem failure while preparing the workspace.
func WorkspaceError(operation string, cause error) *ClassifiedError {
	return Wrap(cause, CategoryWorkspace, SeverityFatal, "workspace operation failed").
		WithContext("operation", operation)
}

// Canceled reports a job stopped by cancellation during the given step.
func Canceled(step string, cause error) *ClassifiedError {
	return Wrap(cause, CategoryCanceled, SeverityError, "job canceled").
		WithKind(KindCanceled).
		WithContext("step", step)
}

// Config errors

func ConfigNotFound(path string) *ClassifiedError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithKind(KindConfig).
		WithContext("path", path)
}

func ConfigInvalid(field, reason string) *ClassifiedError {
	return New(CategoryConfig, SeverityFatal, fmt.Sprintf("invalid configuration: %s: %s", field, reason)).
		WithKind(KindConfig).
		WithContext("field", field).
		WithContext("reason", reason)
}

func ValidationFailed(field, reason string) *ClassifiedError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Store errors

func StoreError(operation string, cause error) *ClassifiedError {
	return Wrap(cause, CategoryStore, SeverityError, "job history operation failed").
		WithContext("operation", operation)
}

// NotFound reports a missing resource such as an unknown job id.
func NotFound(resource, id string, cause error) *ClassifiedError {
	return Wrap(cause, CategoryNotFound, SeverityInfo, resource+" not found").
		WithContext("id", id)
}

// DaemonError creates a new daemon error (service unavailable)
func DaemonError(message string) *ClassifiedError {
	return New(CategoryDaemon, SeverityError, message)
}

// InternalError wraps an unexpected failure.
func InternalError(message string, cause error) *ClassifiedError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
