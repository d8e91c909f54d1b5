package app

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	isJSON := func(cfg *Config) bool {
		_, ok := NewLogger(cfg).Handler().(*slog.JSONHandler)
		return ok
	}

	assert.True(t, isJSON(&Config{AppEnv: "production", LogFormat: "pretty"}),
		"production always ships JSON")
	assert.True(t, isJSON(&Config{AppEnv: "development", LogFormat: "json"}))
	assert.False(t, isJSON(&Config{AppEnv: "development", LogFormat: "pretty"}))
	assert.False(t, isJSON(nil))
}
