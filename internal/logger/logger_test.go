package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("dev environment ok", func(t *testing.T) {
		l, err := New(EnvDevelopment, LevelDebug)

		require.NoError(t, err)
		require.NotNil(t, l)
	})

	t.Run("prod environment ok", func(t *testing.T) {
		l, err := New(EnvProduction, LevelInfo)

		require.NoError(t, err)
		require.NotNil(t, l)
	})

	t.Run("unknown environment fails", func(t *testing.T) {
		_, err := New("staging", LevelInfo)

		require.Error(t, err, "unknown environment must be rejected")
	})
}

func TestParseLevelString(t *testing.T) {
	cases := map[string]string{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"Warn":    LevelWarn,
		"error":   LevelError,
		"unknown": LevelInfo, // falls back to info
	}

	for in, want := range cases {
		require.Equal(t, parseLevelString(want), parseLevelString(in), "level %q", in)
	}
}
