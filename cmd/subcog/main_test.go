package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subcog/subcog/internal/config"
)

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := loadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(origWd) }()
	require.NoError(t, os.Chdir(dir))

	cfg, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
}

func TestReadCaptureContent_fromArgs(t *testing.T) {
	content, err := readCaptureContent([]string{"remember", "this"})
	require.NoError(t, err)
	assert.Equal(t, "remember this", content)
}

func TestToRouterConfig_translatesOrgSqliteShared(t *testing.T) {
	rc := toRouterConfig(config.RouterConfig{
		UserDataDir: "/tmp/subcog",
		Org:         config.OrgConfig{SqliteShared: &config.SqliteSharedConfig{Path: "/tmp/org.db"}},
	})
	require.NotNil(t, rc.Org.SqliteShared)
	assert.Equal(t, "/tmp/org.db", rc.Org.SqliteShared.Path)
}

func TestToRouterConfig_translatesOrgPostgresql(t *testing.T) {
	rc := toRouterConfig(config.RouterConfig{
		Org: config.OrgConfig{Postgresql: &config.PostgresqlConfig{URL: "postgres://db/subcog", MaxConnections: 5, TimeoutSecs: 10}},
	})
	require.NotNil(t, rc.Org.Postgresql)
	assert.Equal(t, "postgres://db/subcog", rc.Org.Postgresql.URL)
	assert.Equal(t, 5, rc.Org.Postgresql.MaxConnections)
}

func TestToRouterConfig_noOrgConfigured(t *testing.T) {
	rc := toRouterConfig(config.RouterConfig{UserDataDir: "/tmp/subcog"})
	assert.Nil(t, rc.Org.SqliteShared)
	assert.Nil(t, rc.Org.Postgresql)
}
