package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Initialize sets up structured logging with the specified level
// Returns a basic logrus logger for backward compatibility
func Initialize(logLevel string) *logrus.Logger {
	logger := logrus.New()
	
	// Set log level
	level, err := logrus.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Invalid log level, defaulting to info")
	}
	logger.SetLevel(level)
	
	// Set JSON formatter for structured logging
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	
	// Default to stdout
	logger.SetOutput(os.Stdout)

	return logger
}

// SetupFileLogging configures logging to write to a file in addition to stdout
func SetupFileLogging(logger *logrus.Logger, logFile string) error {
	if logFile == "" {
		return nil
	}
	
	// Create log directory if it doesn't exist
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	
	// Open log file
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	
	// Set output to both stdout and file
	multiWriter := io.MultiWriter(os.Stdout, file)
	logger.SetOutput(multiWriter)
	
	logger.WithField("log_file", logFile).Info("File logging enabled")
	
	return nil
}

// NewDeviceLogger creates a logger scoped to one tenant's device, the
// field pair every component attaches before logging anything
// device-related.
func NewDeviceLogger(logger *logrus.Logger, tenantID, deviceID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "device",
		"tenant_id": tenantID,
		"device_id": deviceID,
	})
}

// NewTenantLogger creates a logger scoped to one tenant, carrying only the
// tenant_id field.
func NewTenantLogger(logger *logrus.Logger, tenantID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
	})
}

// NewServiceLogger creates a logger for one named internal service of the
// bridge process.
func NewServiceLogger(logger *logrus.Logger, serviceName string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"service": "school-attendance-bridge",
		"component": serviceName,
	})
}
