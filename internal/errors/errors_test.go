package errors

import (
	"bytes"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ClassifiedError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CategoryConfig, SeverityFatal, "configuration invalid"),
			expected: "config (fatal): configuration invalid",
		},
		{
			name:     "error with cause",
			err:      Wrap(fmt.Errorf("exit status 3"), CategoryFineTune, SeverityFatal, "fine-tune failed"),
			expected: "finetune (fatal): fine-tune failed: exit status 3",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.err.Error(); got != test.expected {
				t.Errorf("Error() = %q, want %q", got, test.expected)
			}
		})
	}
}

func TestClassifiedError_WithContext(t *testing.T) {
	err := New(CategoryGit, SeverityWarning, "clone failed").
		WithContext("url", "git@example.com:org/repo.git").
		WithContext("branch", "dev")

	require.NotNil(t, err.Context)
	assert.Equal(t, "git@example.com:org/repo.git", err.Context["url"])
	assert.Equal(t, "dev", err.Context["branch"])
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := FineTuneFailed(3, stdErrors.New("exit status 3"))
	wrapped := fmt.Errorf("step finetune: %w", base)

	assert.True(t, IsKind(wrapped, KindFineTune))
	assert.Equal(t, KindFineTune, KindOf(wrapped))
	assert.True(t, IsCategory(wrapped, CategoryFineTune))
	assert.False(t, IsKind(stdErrors.New("plain"), KindFineTune))
	assert.Equal(t, CategoryInternal, GetCategory(stdErrors.New("plain")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(CloneTransient("u", "b", stdErrors.New("i/o timeout"))))
	assert.False(t, IsRetryable(CloneFailed(CategoryAuth, "u", "b", stdErrors.New("denied"))))
	assert.False(t, IsRetryable(stdErrors.New("plain")))
}

func TestExitCodeFor(t *testing.T) {
	a := NewCLIErrorAdapter(false, nil)
	cause := stdErrors.New("boom")

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", cause, ExitGeneral},
		{"malformed ref", MalformedReference("main"), ExitValidation},
		{"clone auth", CloneFailed(CategoryAuth, "u", "b", cause), ExitAuth},
		{"clone missing branch", CloneFailed(CategoryGit, "u", "b", cause), ExitClone},
		{"clone transient", CloneTransient("u", "b", cause), ExitClone},
		{"finetune", FineTuneFailed(1, cause), ExitFineTune},
		{"inference", InferenceAssertionFailed(1, "mismatch", cause), ExitInferenceAssertion},
		{"busy", WorkspaceBusy("/w", "pid 1"), ExitWorkspaceBusy},
		{"canceled", Canceled("finetune", cause), ExitCanceled},
		{"config", ConfigInvalid("repository.url", "required"), ExitConfig},
		{"store", StoreError("append", cause), ExitDaemon},
		{"internal", InternalError("x", cause), ExitInternal},
		{"wrapped", fmt.Errorf("job: %w", FineTuneFailed(2, cause)), ExitFineTune},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, a.ExitCodeFor(c.err))
		})
	}
}

func TestFormatError(t *testing.T) {
	a := NewCLIErrorAdapter(false, nil)
	assert.Equal(t, "", a.FormatError(nil))
	assert.Equal(t, "Error: boom", a.FormatError(stdErrors.New("boom")))
	assert.Contains(t, a.FormatError(MalformedReference("x")), "malformed reference")
	assert.Equal(t, "finetune: fine-tune entry point exited with code 4", a.FormatError(FineTuneFailed(4, nil)))

	verbose := NewCLIErrorAdapter(true, nil)
	assert.Equal(t, "finetune (fatal): fine-tune entry point exited with code 4", verbose.FormatError(FineTuneFailed(4, nil)))
}

func TestHandleErrorExits(t *testing.T) {
	var logBuf, out bytes.Buffer
	a := NewCLIErrorAdapter(false, slog.New(slog.NewTextHandler(&logBuf, nil)))
	a.out = &out
	code := -1
	a.exit = func(c int) { code = c }

	a.HandleError(InferenceAssertionFailed(1, "smoke test failed", nil))

	assert.Equal(t, ExitInferenceAssertion, code)
	assert.Contains(t, out.String(), "smoke test failed")
	assert.Contains(t, logBuf.String(), "kind=inference_assertion_failure")

	code = -1
	a.HandleError(nil)
	assert.Equal(t, -1, code)
}
