package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leighmacdonald/scorebot/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMustCreateLogger(t *testing.T) {
	settings := config.NewSettings()

	settings.RunMode = config.ModeTest
	require.False(t, MustCreateLogger(settings).Core().Enabled(zap.FatalLevel))

	settings.RunMode = config.ModeDebug
	settings.LogLevel = "debug"
	require.True(t, MustCreateLogger(settings).Core().Enabled(zap.DebugLevel))

	settings.RunMode = config.ModeRelease
	settings.LogLevel = "warn"
	logger := MustCreateLogger(settings)
	require.False(t, logger.Core().Enabled(zap.InfoLevel))
	require.True(t, logger.Core().Enabled(zap.WarnLevel))

	settings.RunMode = "bogus"
	require.Panics(t, func() { MustCreateLogger(settings) })
}

func TestFileCore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scorebot.log")
	logger := zap.New(fileCore(path, zap.InfoLevel))

	logger.Info("Match finished", zap.String("map", "de_dust2"))
	logger.Debug("Filtered")
	require.NoError(t, logger.Sync())

	body, errRead := os.ReadFile(path)
	require.NoError(t, errRead)
	require.Contains(t, string(body), `"map":"de_dust2"`)
	require.NotContains(t, string(body), "Filtered")
}
