package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/tmp/custom.toml")
	t.Setenv(EnvAPIURL, "http://localhost:8080")

	env := ReadEnvOverrides()
	assert.Equal(t, "/tmp/custom.toml", env.ConfigPath)
	assert.Equal(t, "http://localhost:8080", env.APIURL)
}

func TestReadEnvOverrides_Empty(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvAPIURL, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}
