// Package apperror provides tests for the custom error types and utility functions.
package apperror

import (
	"errors"
	"net/http"
	"testing"
)

// TestError_Error verifies that the Error() method returns the correct string format.
func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without field",
			err:      New(CodeGraphEmpty, "graph is empty"),
			expected: "[GRAPH_EMPTY] graph is empty",
		},
		{
			name:     "with field",
			err:      NewWithField(CodeInvalidMarker, "latitude out of range", "lat"),
			expected: "[INVALID_MARKER] latitude out of range (field: lat)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestError_Unwrap verifies that the Unwrap() method correctly returns the underlying cause.
func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, CodeInternal, "wrapped error")

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

// TestError_HTTPStatus verifies that the HTTPStatus() method maps ErrorCodes to correct HTTP codes.
func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name           string
		code           ErrorCode
		expectedStatus int
	}{
		{"empty input", CodeEmptyInput, http.StatusBadRequest},
		{"invalid marker", CodeInvalidMarker, http.StatusBadRequest},
		{"invalid argument", CodeInvalidArgument, http.StatusBadRequest},
		{"graph empty", CodeGraphEmpty, http.StatusUnprocessableEntity},
		{"no route", CodeNoRoute, http.StatusUnprocessableEntity},
		{"not found", CodeNotFound, http.StatusNotFound},
		{"provider unavailable", CodeProviderUnavailable, http.StatusBadGateway},
		{"provider timeout", CodeProviderTimeout, http.StatusBadGateway},
		{"simulation busy", CodeSimulationBusy, http.StatusConflict},
		{"simulation aborted", CodeSimulationAborted, http.StatusRequestTimeout},
		{"rate limited", CodeRateLimited, http.StatusTooManyRequests},
		{"unimplemented", CodeUnimplemented, http.StatusNotImplemented},
		{"internal", CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "test message")
			if got := err.HTTPStatus(); got != tt.expectedStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.expectedStatus)
			}
		})
	}
}

// TestNew verifies the New function correctly initializes an Error.
func TestNew(t *testing.T) {
	err := New(CodeGraphEmpty, "graph is empty")

	if err.Code != CodeGraphEmpty {
		t.Errorf("Code = %v, want %v", err.Code, CodeGraphEmpty)
	}
	if err.Message != "graph is empty" {
		t.Errorf("Message = %v, want %v", err.Message, "graph is empty")
	}
	if err.Severity != SeverityError {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityError)
	}
}

// TestNewWarning verifies the NewWarning function correctly initializes an Error with SeverityWarning.
func TestNewWarning(t *testing.T) {
	err := NewWarning(CodeProviderUnavailable, "falling back to synthetic network")

	if err.Severity != SeverityWarning {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityWarning)
	}
}

// TestNewCritical verifies the NewCritical function correctly initializes an Error with SeverityCritical.
func TestNewCritical(t *testing.T) {
	err := NewCritical(CodeInternal, "critical failure")

	if err.Severity != SeverityCritical {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityCritical)
	}
}

// TestWithDetails verifies that WithDetails adds key-value pairs to the error's details map.
func TestWithDetails(t *testing.T) {
	err := New(CodeGraphEmpty, "empty").
		WithDetails("road_count", 0).
		WithDetails("radius_km", 3)

	if err.Details["road_count"] != 0 {
		t.Errorf("Details[road_count] = %v, want 0", err.Details["road_count"])
	}
	if err.Details["radius_km"] != 3 {
		t.Errorf("Details[radius_km] = %v, want 3", err.Details["radius_km"])
	}
}

// TestWithField verifies that WithField sets the field of the error.
func TestWithField(t *testing.T) {
	err := New(CodeInvalidMarker, "invalid marker").WithField("lng")

	if err.Field != "lng" {
		t.Errorf("Field = %v, want lng", err.Field)
	}
}

// TestWithSeverity verifies that WithSeverity sets the severity level of the error.
func TestWithSeverity(t *testing.T) {
	err := New(CodeProviderUnavailable, "down").WithSeverity(SeverityCritical)

	if err.Severity != SeverityCritical {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityCritical)
	}
}

// TestIs verifies the Is function correctly identifies errors by their ErrorCode.
func TestIs(t *testing.T) {
	err := New(CodeEmptyInput, "no markers")

	if !Is(err, CodeEmptyInput) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, CodeGraphEmpty) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(errors.New("regular error"), CodeEmptyInput) {
		t.Error("Is() should return false for non-Error")
	}
}

// TestCode verifies the Code function correctly extracts the ErrorCode.
func TestCode(t *testing.T) {
	err := New(CodeNoRoute, "no route")

	if Code(err) != CodeNoRoute {
		t.Errorf("Code() = %v, want %v", Code(err), CodeNoRoute)
	}

	regularErr := errors.New("regular error")
	if Code(regularErr) != CodeInternal {
		t.Errorf("Code() for regular error = %v, want %v", Code(regularErr), CodeInternal)
	}
}

// TestHTTPStatus verifies the package-level HTTPStatus function for arbitrary errors.
func TestHTTPStatus(t *testing.T) {
	t.Run("app error", func(t *testing.T) {
		if got := HTTPStatus(New(CodeNotFound, "missing")); got != http.StatusNotFound {
			t.Errorf("HTTPStatus() = %v, want %v", got, http.StatusNotFound)
		}
	})

	t.Run("wrapped app error", func(t *testing.T) {
		inner := New(CodeEmptyInput, "no markers")
		wrapped := errors.Join(errors.New("context"), inner)
		if got := HTTPStatus(wrapped); got != http.StatusBadRequest {
			t.Errorf("HTTPStatus() = %v, want %v", got, http.StatusBadRequest)
		}
	})

	t.Run("regular error", func(t *testing.T) {
		if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
			t.Errorf("HTTPStatus() = %v, want %v", got, http.StatusInternalServerError)
		}
	})
}

// TestFromError verifies the FromError conversion behavior with different error types.
func TestFromError(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		if FromError(nil) != nil {
			t.Error("FromError(nil) should return nil")
		}
	})

	t.Run("app error passes through", func(t *testing.T) {
		orig := New(CodeInvalidMarker, "bad marker")
		if got := FromError(orig); got != orig {
			t.Errorf("FromError() = %v, want same instance", got)
		}
	})

	t.Run("regular error wrapped as internal", func(t *testing.T) {
		err := FromError(errors.New("boom"))
		if err == nil {
			t.Fatal("FromError() should not return nil")
		}
		if err.Code != CodeInternal {
			t.Errorf("Code = %v, want %v", err.Code, CodeInternal)
		}
		if err.Cause == nil {
			t.Error("Cause should be preserved")
		}
	})
}

// TestIsWarning verifies the IsWarning function correctly identifies warning errors.
func TestIsWarning(t *testing.T) {
	warning := NewWarning(CodeProviderUnavailable, "fallback engaged")
	err := New(CodeGraphEmpty, "empty")

	if !IsWarning(warning) {
		t.Error("IsWarning() should return true for warning")
	}
	if IsWarning(err) {
		t.Error("IsWarning() should return false for error")
	}
}

// TestIsCritical verifies the IsCritical function correctly identifies critical errors.
func TestIsCritical(t *testing.T) {
	critical := NewCritical(CodeInternal, "critical")
	err := New(CodeGraphEmpty, "empty")

	if !IsCritical(critical) {
		t.Error("IsCritical() should return true for critical")
	}
	if IsCritical(err) {
		t.Error("IsCritical() should return false for error")
	}
}

// TestSeverity_String verifies the String method of Severity returns the correct string representation.
func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		expected string
	}{
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.expected {
			t.Errorf("Severity.String() = %v, want %v", got, tt.expected)
		}
	}
}

// TestValidationErrors verifies the functionality of the ValidationErrors collection.
func TestValidationErrors(t *testing.T) {
	t.Run("new validation errors", func(t *testing.T) {
		ve := NewValidationErrors()
		if ve.HasErrors() {
			t.Error("new ValidationErrors should not have errors")
		}
		if ve.HasWarnings() {
			t.Error("new ValidationErrors should not have warnings")
		}
		if !ve.IsValid() {
			t.Error("new ValidationErrors should be valid")
		}
	})

	t.Run("add error", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddError(CodeInvalidMarker, "marker outside area")

		if !ve.HasErrors() {
			t.Error("should have errors")
		}
		if ve.IsValid() {
			t.Error("should not be valid")
		}
		if len(ve.Errors) != 1 {
			t.Errorf("errors count = %d, want 1", len(ve.Errors))
		}
	})

	t.Run("add warning", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddWarning(CodeProviderUnavailable, "fallback")

		if !ve.HasWarnings() {
			t.Error("should have warnings")
		}
		if !ve.IsValid() {
			t.Error("should be valid (warnings don't affect validity)")
		}
	})

	t.Run("add error with field", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddErrorWithField(CodeInvalidMarker, "invalid", "lat")

		if ve.Errors[0].Field != "lat" {
			t.Errorf("Field = %v, want lat", ve.Errors[0].Field)
		}
	})

	t.Run("add via Add method", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.Add(NewWarning(CodeProviderUnavailable, "warning"))
		ve.Add(New(CodeInvalidMarker, "error"))

		if len(ve.Warnings) != 1 {
			t.Errorf("warnings count = %d, want 1", len(ve.Warnings))
		}
		if len(ve.Errors) != 1 {
			t.Errorf("errors count = %d, want 1", len(ve.Errors))
		}
	})

	t.Run("merge", func(t *testing.T) {
		ve1 := NewValidationErrors()
		ve1.AddError(CodeInvalidMarker, "error1")

		ve2 := NewValidationErrors()
		ve2.AddError(CodeEmptyInput, "error2")
		ve2.AddWarning(CodeProviderUnavailable, "warning")

		ve1.Merge(ve2)

		if len(ve1.Errors) != 2 {
			t.Errorf("errors count = %d, want 2", len(ve1.Errors))
		}
		if len(ve1.Warnings) != 1 {
			t.Errorf("warnings count = %d, want 1", len(ve1.Warnings))
		}
	})

	t.Run("merge nil", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.Merge(nil) // should not panic
	})

	t.Run("error messages", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddError(CodeInvalidMarker, "error1")
		ve.AddError(CodeEmptyInput, "error2")

		messages := ve.ErrorMessages()
		if len(messages) != 2 {
			t.Errorf("messages count = %d, want 2", len(messages))
		}
	})

	t.Run("warning messages", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddWarning(CodeProviderUnavailable, "warning1")

		messages := ve.WarningMessages()
		if len(messages) != 1 {
			t.Errorf("messages count = %d, want 1", len(messages))
		}
		if messages[0] != "warning1" {
			t.Errorf("message = %v, want warning1", messages[0])
		}
	})
}

// TestPredefinedErrors verifies that all predefined errors are correctly initialized.
func TestPredefinedErrors(t *testing.T) {
	predefinedErrors := []*Error{
		ErrEmptyInput,
		ErrGraphEmpty,
		ErrNotFound,
		ErrSimAborted,
		ErrProviderDown,
	}

	for _, err := range predefinedErrors {
		if err == nil {
			t.Error("predefined error should not be nil")
			continue
		}
		if err.Code == "" {
			t.Error("predefined error should have a code")
		}
		if err.Message == "" {
			t.Error("predefined error should have a message")
		}
	}
}
