package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZapLogger(t *testing.T) {
	l, err := newZapLogger("debug", true)
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = newZapLogger("loud", false)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("APP_NAME", "intake-api")
	t.Setenv("APP_VERSION", "1.4.0")
	t.Setenv("DRAFT_STORAGE", "memory")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--env-file", filepath.Join(t.TempDir(), "none.env")})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "intake-api 1.4.0\n", out.String())
}
