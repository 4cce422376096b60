package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCfg is a minimal Config implementation for manager tests
type testCfg struct {
	Name  string `mapstructure:"name"`
	Limit int    `mapstructure:"limit"`
}

func (c *testCfg) GetName() string { return "testcfg" }

func (c *testCfg) Validate() error {
	if c.Limit < 0 {
		return fmt.Errorf("Limit must be non-negative")
	}
	return nil
}

// testListener records OnConfigChanged notifications
type testListener struct {
	changed chan Config
}

func (l *testListener) OnConfigChanged(configName string, newConfig, oldConfig Config) error {
	l.changed <- newConfig
	return nil
}

func (l *testListener) GetConfigName() string { return "testcfg" }

func writeCfgFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "testcfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeCfgFile(t, dir, "name: alpha\nlimit: 16\n")

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(dir)

	cfg := &testCfg{}
	require.NoError(t, cm.LoadConfig("testcfg", cfg))
	assert.Equal(t, "alpha", cfg.Name)
	assert.Equal(t, 16, cfg.Limit)

	got, err := cm.GetConfig("testcfg")
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(t.TempDir())

	err := cm.LoadConfig("testcfg", &testCfg{})
	assert.Error(t, err)
}

func TestGetConfigNotLoaded(t *testing.T) {
	cm := NewConfigManager()
	defer cm.Close()

	_, err := cm.GetConfig("nope")
	assert.Error(t, err)
}

func TestValidatorRejectsConfig(t *testing.T) {
	dir := t.TempDir()
	writeCfgFile(t, dir, "name: alpha\nlimit: 16\n")

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(dir)
	cm.RegisterValidator("testcfg", func(c Config) error {
		return fmt.Errorf("always rejected")
	})

	err := cm.LoadConfig("testcfg", &testCfg{})
	assert.Error(t, err)
}

func TestChangeListenerNotifiedOnReload(t *testing.T) {
	dir := t.TempDir()
	path := writeCfgFile(t, dir, "name: alpha\nlimit: 16\n")

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(dir)

	cfg := &testCfg{}
	require.NoError(t, cm.LoadConfig("testcfg", cfg))

	listener := &testListener{changed: make(chan Config, 1)}
	cm.AddChangeListener(listener)

	require.NoError(t, os.WriteFile(path, []byte("name: beta\nlimit: 32\n"), 0o644))

	select {
	case newCfg := <-listener.changed:
		tc, ok := newCfg.(*testCfg)
		require.True(t, ok)
		assert.Equal(t, "beta", tc.Name)
		assert.Equal(t, 32, tc.Limit)
	case <-time.After(5 * time.Second):
		t.Fatal("listener not notified after config rewrite")
	}
}

func TestRemoveChangeListener(t *testing.T) {
	cm := NewConfigManager().(*configManager)
	defer cm.Close()

	listener := &testListener{changed: make(chan Config, 1)}
	cm.AddChangeListener(listener)
	require.Len(t, cm.listeners, 1)

	cm.RemoveChangeListener(listener)
	assert.Empty(t, cm.listeners)
}

func TestGetInstanceSingleton(t *testing.T) {
	a := GetInstance()
	b := GetInstance()
	assert.Same(t, a, b)
}
