package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAtPathAppliesDefaults(t *testing.T) {
	c, err := NewAtPath("")
	require.NoError(t, err)
	assert.Equal(t, "no-name", c.Name)
	assert.Equal(t, "hook", c.Type)
	assert.Equal(t, 5000, c.HookPort)
	assert.Equal(t, "127.0.0.1", c.HookHost)
	assert.Equal(t, "127.0.0.1:9100", c.Metrics.Bind)
}

func TestSetAndGetRoundTrip(t *testing.T) {
	c, err := NewAtPath("")
	require.NoError(t, err)
	c.Name = "worker"
	Set(c)

	got := Get()
	assert.Equal(t, "worker", got.Name)

	// Get returns a copy; mutating it must not affect the singleton.
	got.Name = "mutated"
	assert.Equal(t, "worker", Get().Name)
}

func TestUpdateMutatesSingleton(t *testing.T) {
	c, err := NewAtPath("")
	require.NoError(t, err)
	Set(c)

	Update(func(c *Configuration) {
		c.Debug = true
	})
	assert.True(t, Get().Debug)
}

func TestFromFileAndWriteToDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	c, err := NewAtPath(path)
	require.NoError(t, err)
	c.Name = "from-disk"
	c.HookPort = 6001
	require.NoError(t, WriteToDisk(c))

	require.NoError(t, FromFile(path))
	assert.Equal(t, "from-disk", Get().Name)
	assert.Equal(t, 6001, Get().HookPort)

	_, err = os.Stat(path)
	require.NoError(t, err)
}
