package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: tchub\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, ":7000", cfg.TCP.Addr)
	assert.Equal(t, "tchub", cfg.Scheduler.Tag)
	assert.NotEmpty(t, cfg.Data.Dir)
}

func TestLoadEmptyDataDirFallsBack(t *testing.T) {
	// 配置文件里的空字符串会盖掉 viper 默认值，
	// 加载后必须回退到可用目录，否则服务起不来
	cfg, err := Load(writeConfig(t, "data:\n  dir: \"\"\n"))
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "tchub-data"), cfg.Data.Dir)
}

func TestLoadExplicitDataDirKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "data:\n  dir: /var/lib/tchub\n"))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tchub", cfg.Data.Dir)
}
