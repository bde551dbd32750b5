package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/config"
)

func TestLiveEndpoint(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8083":         "ws://localhost:8083/ws",
		"https://chat.example.com/edge": "wss://chat.example.com/edge/ws",
	}
	for in, want := range tests {
		got, err := liveEndpoint(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestHubOptionsFromConfig(t *testing.T) {
	opts := hubOptions(config.HubConfig{
		AckTimeout: 2 * time.Second,
		WriteWait:  3 * time.Second,
		PongWait:   4 * time.Second,
		SendBuffer: 8,
	})
	assert.Equal(t, 2*time.Second, opts.AckTimeout)
	assert.Equal(t, 3*time.Second, opts.WriteWait)
	assert.Equal(t, 4*time.Second, opts.PongWait)
	assert.Equal(t, 8, opts.SendBuffer)
	assert.Equal(t, int64(64<<10), opts.ReadLimit)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "token", "tail"} {
		assert.True(t, names[want], want)
	}
}
