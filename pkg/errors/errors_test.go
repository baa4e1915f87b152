package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestImportError(t *testing.T) {
	tests := []struct {
		name        string
		category    ErrorCategory
		code        ErrorCode
		message     string
		cause       error
		expectedMsg string
		recoverable bool
	}{
		{
			name:        "file error with cause",
			category:    CategoryFile,
			code:        CodeSourceUnavailable,
			message:     "file not found",
			cause:       errors.New("no such file"),
			expectedMsg: "file not found: no such file",
		},
		{
			name:        "parse error",
			category:    CategoryParse,
			code:        CodeMalformedHeader,
			message:     "missing header",
			expectedMsg: "missing header",
		},
		{
			name:        "reconciliation error is recoverable",
			category:    CategoryReconcile,
			code:        CodeImbalancedGroup,
			message:     "imbalanced",
			expectedMsg: "imbalanced",
			recoverable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ImportError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.Error() != tt.expectedMsg {
				t.Errorf("expected error string %q, got %q", tt.expectedMsg, err.Error())
			}
			if err.Recoverable() != tt.recoverable {
				t.Errorf("expected Recoverable() = %v", tt.recoverable)
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
			if len(err.StackTrace) == 0 {
				t.Error("expected a captured stack trace")
			}
		})
	}
}

func TestImportErrorWithContext(t *testing.T) {
	err := New(CategoryFile, CodeSourceUnavailable, "test error").
		WithContext("file", "/path/to/file").
		WithContext("line", 42).
		WithSuggestion("check file path")

	if err.Context["file"] != "/path/to/file" {
		t.Errorf("expected file context '/path/to/file', got %v", err.Context["file"])
	}
	if err.Context["line"] != 42 {
		t.Errorf("expected line context 42, got %v", err.Context["line"])
	}

	expected := "test error (suggestion: check file path)"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("SourceUnavailable", func(t *testing.T) {
		err := SourceUnavailable("/tmp/journal.csv", errors.New("permission denied"))
		if err.Category != CategoryFile || err.Code != CodeSourceUnavailable {
			t.Errorf("unexpected classification %s/%s", err.Category, err.Code)
		}
		if err.Context["file_path"] != "/tmp/journal.csv" {
			t.Errorf("expected file_path context, got %v", err.Context["file_path"])
		}
	})

	t.Run("MalformedHeader", func(t *testing.T) {
		err := MalformedHeader("/tmp/a.csv", "no usable columns")
		if err.Code != CodeMalformedHeader {
			t.Errorf("expected malformed header code, got %s", err.Code)
		}
		if err.Recoverable() {
			t.Error("malformed header must not be recoverable")
		}
	})

	t.Run("ImbalancedGroup", func(t *testing.T) {
		err := ImbalancedGroup("QB-7", decimal.RequireFromString("10.00"), decimal.RequireFromString("9.00"))
		want := "unbalanced journal entry skipped (ref: QB-7, debits: 10.00, credits: 9.00)"
		if err.Message != want {
			t.Errorf("expected %q, got %q", want, err.Message)
		}
		if !err.Recoverable() {
			t.Error("imbalanced group should be recoverable")
		}
	})

	t.Run("PersistenceFailure", func(t *testing.T) {
		cause := errors.New("deadlock")
		err := PersistenceFailure("create journal entry", cause)
		if err.Category != CategoryPersistence {
			t.Errorf("expected persistence category, got %s", err.Category)
		}
		if !errors.Is(err, cause) {
			t.Error("expected cause to be reachable with errors.Is")
		}
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		err := InvalidAmount("debit", "abc")
		if err.Context["value"] != "abc" {
			t.Errorf("expected value context, got %v", err.Context["value"])
		}
	})
}

func TestAsImportError(t *testing.T) {
	base := MissingParentRecord("invoice", "QB-INV-1", "invoice not found")
	wrapped := fmt.Errorf("outer: %w", base)

	got, ok := AsImportError(wrapped)
	if !ok {
		t.Fatal("expected to extract ImportError from chain")
	}
	if got != base {
		t.Error("expected the original ImportError")
	}
	if !HasCode(wrapped, CodeMissingParentRecord) {
		t.Error("expected HasCode to match")
	}
	if HasCode(errors.New("plain"), CodeMissingParentRecord) {
		t.Error("plain errors carry no code")
	}
}

func TestWrapIfNeeded(t *testing.T) {
	if WrapIfNeeded(nil, CategoryInternal, CodeUnexpectedError, "x") != nil {
		t.Error("expected nil for nil error")
	}

	existing := InvalidAmount("amount", "x")
	if WrapIfNeeded(existing, CategoryInternal, CodeUnexpectedError, "x") != existing {
		t.Error("expected existing ImportError to be returned unchanged")
	}

	wrapped := WrapIfNeeded(errors.New("boom"), CategoryInternal, CodeUnexpectedError, "wrapped")
	if wrapped.Code != CodeUnexpectedError {
		t.Errorf("expected unexpected_error code, got %s", wrapped.Code)
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*ImportError{
		UnresolvedEntity("account", "Petty Cash"),
		UnresolvedEntity("account", "Savings"),
		MissingParentRecord("invoice", "QB-INV-9", "no summary"),
	}

	summary := NewErrorSummary(errs)
	if summary.Total != 3 {
		t.Errorf("expected total 3, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryReconcile] != 3 {
		t.Errorf("expected 3 reconciliation errors, got %d", summary.ByCategory[CategoryReconcile])
	}
	if !summary.HasCode(CodeUnresolvedEntity) {
		t.Error("expected unresolved_entity code")
	}
	if summary.HasCode(CodePersistenceFailure) {
		t.Error("did not expect persistence_failure code")
	}

	if NewErrorSummary(nil).Error() != "no errors" {
		t.Error("expected 'no errors' for empty summary")
	}
	single := NewErrorSummary(errs[:1])
	if single.Error() != errs[0].Error() {
		t.Errorf("expected single summary to echo the error, got %q", single.Error())
	}
}
