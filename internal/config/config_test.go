package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadCountdownSeconds(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want int
	}{
		{"unset uses default", "", 3},
		{"explicit zero opens immediately", "0", -1},
		{"negative kept", "-1", -1},
		{"positive kept", "5", 5},
		{"garbage falls back", "soon", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("COUNTDOWN_SECONDS", tt.env)
			assert.Equal(t, tt.want, Load().CountdownSeconds)
		})
	}
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("REATTEMPT_DELAY_MS", "1500")
	t.Setenv("ATTEMPT_IDLE_TTL_MINUTES", "5")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	assert.Equal(t, 1500*time.Millisecond, cfg.ReAttemptDelay)
	assert.Equal(t, 5*time.Minute, cfg.AttemptIdleTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}
