package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvDefaults(t *testing.T) {
	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, 12346, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, DefaultRoomMaxUsers, cfg.RoomMaxUsers)
	assert.Equal(t, []int32{1739989}, cfg.TestAccounts)
	assert.False(t, cfg.ReplayEnabled)
	assert.Equal(t, "record", cfg.ReplayDir)
	assert.Equal(t, "admin_data.json", cfg.AdminDataPath)
}

func TestValidateEnvInvalidPort(t *testing.T) {
	t.Setenv("PORT", "notaport")
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestRoomMaxUsersClamped(t *testing.T) {
	t.Setenv("ROOM_MAX_USERS", "1000")
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, RoomMaxUsersCeiling, cfg.RoomMaxUsers)

	t.Setenv("ROOM_MAX_USERS", "0")
	cfg, err = ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.RoomMaxUsers)

	t.Setenv("ROOM_MAX_USERS", "16")
	cfg, err = ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.RoomMaxUsers)
}

func TestMonitorsParsing(t *testing.T) {
	t.Setenv("MONITORS", "100, 200,300")
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, []int32{100, 200, 300}, cfg.Monitors)

	t.Setenv("MONITORS", "abc")
	_, err = ValidateEnv()
	assert.Error(t, err)
}

func TestFedPeersParsing(t *testing.T) {
	t.Setenv("FED_PEERS", "eu=eu.example.com:12347,us=us.example.com:12347")
	t.Setenv("FED_SECRET", "shared-secret")
	cfg, err := ValidateEnv()
	require.NoError(t, err)
	require.Len(t, cfg.FedPeers, 2)
	assert.Equal(t, Peer{Name: "eu", Addr: "eu.example.com:12347"}, cfg.FedPeers[0])
}

func TestFedPeersRequireSecret(t *testing.T) {
	t.Setenv("FED_PEERS", "eu=eu.example.com:12347")
	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FED_SECRET")
}

func TestRedisAddrValidation(t *testing.T) {
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "not-host-port")
	_, err := ValidateEnv()
	assert.Error(t, err)
}
