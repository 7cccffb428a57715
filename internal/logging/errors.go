package logging

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCategory classifies a failure by the subsystem it originated in.
type ErrorCategory string

const (
	// ErrorCategoryHardware covers terminal-side failures: a device that
	// rejects a command, drops its socket or never answers a probe.
	ErrorCategoryHardware ErrorCategory = "hardware"
	// ErrorCategoryNetwork covers transport failures between the bridge
	// and a terminal or backing service.
	ErrorCategoryNetwork ErrorCategory = "network"
	// ErrorCategorySecurity covers authentication and token failures at
	// the ingress boundary.
	ErrorCategorySecurity ErrorCategory = "security"
	// ErrorCategoryStorage covers repository and queue failures.
	ErrorCategoryStorage ErrorCategory = "storage"
	// ErrorCategoryConfig covers configuration parsing and validation.
	ErrorCategoryConfig ErrorCategory = "config"
	// ErrorCategoryService covers everything else inside the bridge.
	ErrorCategoryService ErrorCategory = "service"
	ErrorCategoryUnknown ErrorCategory = "unknown"
)

// ErrorSeverity drives the log level a structured error is emitted at.
type ErrorSeverity string

const (
	ErrorSeverityCritical ErrorSeverity = "critical"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityInfo     ErrorSeverity = "info"
)

// ErrorContext carries the structured fields attached to an error entry.
type ErrorContext struct {
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation"`
	TenantID    string                 `json:"tenant_id,omitempty"`
	DeviceID    string                 `json:"device_id,omitempty"`
	Recoverable bool                   `json:"recoverable"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StructuredError pairs an error with its classification context.
type StructuredError struct {
	Err       error        `json:"error"`
	Context   ErrorContext `json:"context"`
	Timestamp time.Time    `json:"timestamp"`
	Stack     string       `json:"stack,omitempty"`
}

func (se *StructuredError) Error() string {
	if se.Err != nil {
		return se.Err.Error()
	}
	return "unknown error"
}

func (se *StructuredError) Unwrap() error {
	return se.Err
}

// NewStructuredError builds a StructuredError, capturing a stack trace for
// critical and high severity failures.
func NewStructuredError(err error, context ErrorContext) *StructuredError {
	structuredErr := &StructuredError{
		Err:       err,
		Context:   context,
		Timestamp: time.Now(),
	}
	if context.Severity == ErrorSeverityCritical || context.Severity == ErrorSeverityHigh {
		structuredErr.Stack = captureStackTrace()
	}
	return structuredErr
}

// LogStructuredError emits a structured error at the level its severity
// calls for.
func LogStructuredError(logger *logrus.Logger, structuredErr *StructuredError) {
	if logger == nil || structuredErr == nil {
		return
	}

	entry := logger.WithFields(logrus.Fields{
		"error_category": structuredErr.Context.Category,
		"error_severity": structuredErr.Context.Severity,
		"component":      structuredErr.Context.Component,
		"operation":      structuredErr.Context.Operation,
		"recoverable":    structuredErr.Context.Recoverable,
	})
	if structuredErr.Context.TenantID != "" {
		entry = entry.WithField("tenant_id", structuredErr.Context.TenantID)
	}
	if structuredErr.Context.DeviceID != "" {
		entry = entry.WithField("device_id", structuredErr.Context.DeviceID)
	}
	for key, value := range structuredErr.Context.Metadata {
		entry = entry.WithField(fmt.Sprintf("meta_%s", key), value)
	}
	if structuredErr.Stack != "" {
		entry = entry.WithField("stack_trace", structuredErr.Stack)
	}

	switch structuredErr.Context.Severity {
	case ErrorSeverityCritical, ErrorSeverityHigh:
		entry.Error(structuredErr.Error())
	case ErrorSeverityMedium, ErrorSeverityLow:
		entry.Warn(structuredErr.Error())
	case ErrorSeverityInfo:
		entry.Info(structuredErr.Error())
	default:
		entry.Error(structuredErr.Error())
	}
}

// LogHardwareError records a terminal-side failure: a device the control
// loops or an operator request could not reach or drive.
func LogHardwareError(logger *logrus.Logger, err error, deviceID, operation string, recoverable bool) {
	LogStructuredError(logger, NewStructuredError(err, ErrorContext{
		Category:    ErrorCategoryHardware,
		Severity:    ErrorSeverityHigh,
		Component:   "device",
		Operation:   operation,
		DeviceID:    deviceID,
		Recoverable: recoverable,
	}))
}

// LogStorageError records a repository or queue failure.
func LogStorageError(logger *logrus.Logger, err error, operation string, recoverable bool) {
	severity := ErrorSeverityHigh
	if !recoverable {
		severity = ErrorSeverityCritical
	}
	LogStructuredError(logger, NewStructuredError(err, ErrorContext{
		Category:    ErrorCategoryStorage,
		Severity:    severity,
		Component:   "repository",
		Operation:   operation,
		Recoverable: recoverable,
	}))
}

// LogSecurityError records an authentication failure at the ingress
// boundary. Never recoverable: the request is already rejected.
func LogSecurityError(logger *logrus.Logger, err error, remoteAddr, operation string) {
	LogStructuredError(logger, NewStructuredError(err, ErrorContext{
		Category:    ErrorCategorySecurity,
		Severity:    ErrorSeverityMedium,
		Component:   "ingress",
		Operation:   operation,
		Recoverable: false,
		Metadata:    map[string]interface{}{"remote_addr": remoteAddr},
	}))
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ClassifyError buckets an error into a category from its message, for
// callers that have nothing better than the error text to go on.
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}
	msg := strings.ToLower(err.Error())

	categories := []struct {
		category ErrorCategory
		keywords []string
	}{
		{ErrorCategoryNetwork, []string{
			"connection refused", "connection reset", "i/o timeout",
			"network is unreachable", "no such host", "dial tcp", "dial udp", "broken pipe",
		}},
		{ErrorCategoryHardware, []string{
			"device", "terminal", "fingerprint", "template", "enroll", "capture",
		}},
		{ErrorCategorySecurity, []string{
			"token", "jwt", "signature", "unauthorized", "forbidden", "expired",
		}},
		{ErrorCategoryStorage, []string{
			"sql", "sqlite", "postgres", "constraint", "transaction", "redis", "no space left",
		}},
		{ErrorCategoryConfig, []string{
			"config", "yaml", "parse", "missing", "invalid",
		}},
	}
	for _, c := range categories {
		for _, keyword := range c.keywords {
			if strings.Contains(msg, keyword) {
				return c.category
			}
		}
	}
	return ErrorCategoryUnknown
}
