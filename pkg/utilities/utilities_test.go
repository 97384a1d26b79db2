package utilities

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSnowflakeIDsAreOrderedAndUnique(t *testing.T) {
	prev := ""
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewSnowflakeID()
		require.NotEmpty(t, id)
		assert.False(t, seen[id])
		seen[id] = true
		if prev != "" {
			assert.GreaterOrEqual(t, len(id), len(prev))
		}
		prev = id
	}
}

func TestSnowflakeWithBadNodeFallsBack(t *testing.T) {
	id := NewSnowflakeIDWithNode(1 << 20)
	assert.Len(t, id, 27, "falls back to a KSUID")
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelFromString("debug"))
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("nope"))
}

func TestInitWithFileCore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenancy.log")
	lg, err := Init(Config{Level: "info", File: path, MaxAgeDays: 1})
	require.NoError(t, err)
	lg.Info("hello")
	_ = lg.Sync()

	_, err = os.Lstat(path)
	assert.NoError(t, err, "link name points at the current file")
}
