package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, InitLogger("development", "chatty"))
}

func TestInitLoggerBuildsForEachEnv(t *testing.T) {
	require.NoError(t, InitLogger("development", "debug"))
	require.NoError(t, InitLogger("production", "warn"))
	assert.NotNil(t, GetLogger())
}
