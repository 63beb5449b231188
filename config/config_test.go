package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test 1: sin variables de entorno se aplican los defaults
func TestLoadConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.False(t, cfg.App.Debug)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, int64(1024*1024*1024), cfg.Cache.MaxSizeBytes)
	assert.Equal(t, 0, cfg.WorkerPool.MediaWorkers)
	assert.Same(t, cfg, Global)
}

// Test 2: las variables de entorno llegan a la configuración vía viper
func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Setenv("APP_PORT", "9099")
	t.Setenv("APP_DEBUG", "true")
	t.Setenv("MEDIA_WORKERS", "3")
	t.Setenv("MEDIA_CACHE_MAX_SIZE", "2048")
	t.Setenv("APP_BASIC_AUTH", "admin:secret,ops:secret2")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9099", cfg.App.Port)
	assert.True(t, cfg.App.Debug)
	assert.Equal(t, 3, cfg.WorkerPool.MediaWorkers)
	assert.Equal(t, int64(2048), cfg.Cache.MaxSizeBytes)
	assert.Equal(t, []string{"admin:secret", "ops:secret2"}, cfg.App.BasicAuth)
}

// Test 3: un valor fijado en viper (flag bindeado) gana sobre el entorno
func TestLoadConfig_ViperSetBeatsEnv(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Setenv("APP_PORT", "9099")
	viper.Set("app_port", "7001")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "7001", cfg.App.Port)
}

// Test 4: valores malformados caen al default en vez de romper el arranque
func TestLoadConfig_InvalidNumbersFallBack(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Setenv("MEDIA_WORKERS", "muchos")
	t.Setenv("MEDIA_CACHE_MAX_SIZE", "1.5GB")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.WorkerPool.MediaWorkers)
	assert.Equal(t, int64(1024*1024*1024), cfg.Cache.MaxSizeBytes)
}
