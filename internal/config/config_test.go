package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnviron_Defaults(t *testing.T) {
	req := require.New(t)
	// Given only the mandatory secret
	t.Setenv("JWT_SECRET", "s3cret")

	// When
	cfg, err := FromEnviron()

	// Then
	req.NoError(err)
	req.Equal("0.0.0.0:8000", cfg.HTTPAddr())
	req.Equal("memory", cfg.StoreDriver)
	req.Equal("memory", cfg.PresenceDriver)
	req.Equal("none", cfg.OfflineQueue)
	req.Equal(60*time.Second, cfg.CallTimeout)
	req.Equal(5000, cfg.MaxMessageLength)
	req.Equal(128, cfg.SendBufferSize)
	req.Equal([]string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins())
}

func TestFromEnviron_Requires_Secret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := FromEnviron()
	require.Error(t, err)
}

func TestFromEnviron_Overrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("CALL_TIMEOUT", "15s")
	t.Setenv("CORS_ORIGINS", " https://a.example , https://b.example,")
	t.Setenv("STORE_DRIVER", "sqlite")

	cfg, err := FromEnviron()

	req.NoError(err)
	req.Equal(9090, cfg.Port)
	req.Equal(15*time.Second, cfg.CallTimeout)
	req.Equal([]string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
	req.Equal("sqlite", cfg.StoreDriver)
}

func TestValidate_Rejects_Inconsistent_Drivers(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"STORE_DRIVER": "mongo"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"redis presence without url", map[string]string{"PRESENCE_DRIVER": "redis"}},
		{"asynq without url", map[string]string{"OFFLINE_QUEUE": "asynq"}},
		{"call timeout too short", map[string]string{"CALL_TIMEOUT": "10ms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s3cret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnviron()
			require.Error(t, err)
		})
	}
}
