package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValidInSimulationMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimulationMode = true
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresStorageBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SQLitePath = ""
	cfg.SimulationMode = true
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresJWTKeyOutsideSimulation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimulationMode = false
	cfg.JWTSigningKey = ""
	assert.Error(t, cfg.Validate())

	cfg.JWTSigningKey = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestUsesPostgres(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.UsesPostgres())
	cfg.DatabaseURL = "postgres://localhost/db"
	assert.True(t, cfg.UsesPostgres())
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimulationMode = true
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())
}
