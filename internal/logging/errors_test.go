package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewStructuredError(t *testing.T) {
	err := errors.New("test error")
	context := ErrorContext{
		Category:    ErrorCategoryHardware,
		Severity:    ErrorSeverityHigh,
		Component:   "device",
		Operation:   "health_probe",
		DeviceID:    "dev-1",
		Recoverable: true,
	}

	structuredErr := NewStructuredError(err, context)

	assert.NotNil(t, structuredErr)
	assert.Equal(t, err, structuredErr.Err)
	assert.Equal(t, context, structuredErr.Context)
	assert.False(t, structuredErr.Timestamp.IsZero())
	assert.NotEmpty(t, structuredErr.Stack, "high severity errors carry a stack trace")
}

func TestNewStructuredErrorSkipsStackForLowSeverity(t *testing.T) {
	structuredErr := NewStructuredError(errors.New("minor"), ErrorContext{
		Category: ErrorCategoryService,
		Severity: ErrorSeverityLow,
	})
	assert.Empty(t, structuredErr.Stack)
}

func TestStructuredErrorInterface(t *testing.T) {
	originalErr := errors.New("original error")
	structuredErr := NewStructuredError(originalErr, ErrorContext{
		Category:  ErrorCategoryNetwork,
		Severity:  ErrorSeverityMedium,
		Component: "device",
	})

	assert.Equal(t, "original error", structuredErr.Error())
	assert.Equal(t, originalErr, structuredErr.Unwrap())
	assert.ErrorIs(t, structuredErr, originalErr)
}

func TestLogStructuredErrorDoesNotPanic(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	structuredErr := NewStructuredError(errors.New("test error"), ErrorContext{
		Category:    ErrorCategoryStorage,
		Severity:    ErrorSeverityCritical,
		Component:   "repository",
		Operation:   "bulk_insert",
		TenantID:    "t1",
		DeviceID:    "dev-1",
		Recoverable: false,
		Metadata: map[string]interface{}{
			"table": "attendance_records",
			"count": 5,
		},
	})

	LogStructuredError(logger, structuredErr)
	LogStructuredError(nil, structuredErr)
	LogStructuredError(logger, nil)
}

func TestLogHardwareError(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	LogHardwareError(logger, errors.New("device did not respond"), "dev-1", "health_probe_acquire", true)
}

func TestLogStorageError(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	err := errors.New("database locked")
	LogStorageError(logger, err, "bulk_insert", true)
	LogStorageError(logger, err, "migrate", false)
}

func TestLogSecurityError(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	LogSecurityError(logger, errors.New("token expired"), "10.0.0.9:51234", "validate_token")
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{"nil error", nil, ErrorCategoryUnknown},
		{"connection refused", errors.New("connection refused"), ErrorCategoryNetwork},
		{"io timeout", errors.New("read tcp 10.0.0.5:4370: i/o timeout"), ErrorCategoryNetwork},
		{"device rejected", errors.New("device rejected command: status=2001"), ErrorCategoryHardware},
		{"enrollment failure", errors.New("enrollment failed: verification failed"), ErrorCategoryHardware},
		{"jwt failure", errors.New("jwt validation failed"), ErrorCategorySecurity},
		{"sqlite locked", errors.New("sqlite: table locked"), ErrorCategoryStorage},
		{"redis down", errors.New("redis: connection pool exhausted"), ErrorCategoryStorage},
		{"bad yaml", errors.New("failed to parse yaml"), ErrorCategoryConfig},
		{"unclassified", errors.New("something went wrong"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyError(tt.err))
		})
	}
}

func TestStructuredErrorWithMetadata(t *testing.T) {
	metadata := map[string]interface{}{
		"request_id": "req456",
		"timestamp":  time.Now().Unix(),
	}
	structuredErr := NewStructuredError(errors.New("test error with metadata"), ErrorContext{
		Category:    ErrorCategoryService,
		Severity:    ErrorSeverityMedium,
		Component:   "ingress",
		Operation:   "process_request",
		Recoverable: true,
		Metadata:    metadata,
	})

	assert.Equal(t, metadata, structuredErr.Context.Metadata)
}

func TestCaptureStackTrace(t *testing.T) {
	stack := captureStackTrace()

	assert.NotEmpty(t, stack)
	assert.Contains(t, stack, "TestCaptureStackTrace")
}
