package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPConfigMarshalsTimeoutAndDelayAsSeconds(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.Timeout = 60 * time.Second
	cfg.RequestDelay = 500 * time.Millisecond

	blob, err := json.Marshal(cfg)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(blob, &raw))
	assert.Equal(t, float64(60), raw["timeout"])
	assert.Equal(t, 0.5, raw["request_delay"])
}

func TestHTTPConfigUnmarshalsSecondsIntoDurations(t *testing.T) {
	var cfg HTTPConfig
	err := json.Unmarshal([]byte(`{"timeout": 60, "request_delay": 0.5}`), &cfg)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestDelay)
}
