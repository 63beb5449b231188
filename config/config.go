package config

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Paths      PathsConfig
	Database   DatabaseConfig
	Media      MediaConfig
	Cache      CacheConfig
	WorkerPool WorkerPoolConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasicAuth          []string
	BasePath           string
	TrustedProxies     []string
	BaseUrl            string
	CorsAllowedOrigins []string
}

type PathsConfig struct {
	Storages  string
	SendItems string
	Public    string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB name for Postgres
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

type MediaConfig struct {
	MaxImageSize    int64
	MaxVideoSize    int64
	MaxAudioSize    int64
	MaxDocumentSize int64
	FFmpegBin       string
}

type CacheConfig struct {
	// Dir lives outside the application source tree by default so
	// file-watching dev tooling does not restart on cache writes.
	Dir            string
	MaxSizeBytes   int64
	SweepInterval  int // minutes
	StatusInterval int // minutes
}

type WorkerPoolConfig struct {
	// 0 = derive from system resources
	MediaWorkers int
	AudioWorkers int
}

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig resuelve la configuración vía viper: flags bindeados, variables
// de entorno y el .env cargado por utils.LoadConfig, en ese orden.
func LoadConfig() (*Config, error) {
	viper.AutomaticEnv()

	storages := getEnv("APP_STORAGES_DIR", "storages")

	appCfg := AppConfig{
		Version:            "v1.2.0",
		Port:               getEnv("APP_PORT", "8080"),
		Debug:              getEnvBool("APP_DEBUG", false),
		Environment:        getEnv("APP_ENV", "development"),
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseUrl:            getEnv("APP_BASE_URL", "http://localhost:8080"),
		CorsAllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}
	if v := getEnv("APP_BASIC_AUTH", ""); v != "" {
		appCfg.BasicAuth = strings.Split(v, ",")
	}
	if v := getEnv("APP_TRUSTED_PROXIES", ""); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}
	if v := getEnv("APP_CORS_ALLOWED_ORIGINS", ""); v != "" {
		appCfg.CorsAllowedOrigins = strings.Split(v, ",")
	}

	pathsCfg := PathsConfig{
		Storages:  storages,
		SendItems: getEnv("PATH_SEND_ITEMS", filepath.Join(storages, "senditems")),
		Public:    getEnv("PATH_PUBLIC", filepath.Join(storages, "public")),
	}

	dbCfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Name:            getEnv("DB_NAME", filepath.Join(storages, "app.db")),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
		ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:        getEnvInt("VALKEY_DB", 0),
		ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "whaticket:"),
	}

	mediaCfg := MediaConfig{
		MaxImageSize:    getEnvInt64("MEDIA_MAX_IMAGE_SIZE", 20*1024*1024),
		MaxVideoSize:    getEnvInt64("MEDIA_MAX_VIDEO_SIZE", 100*1024*1024),
		MaxAudioSize:    getEnvInt64("MEDIA_MAX_AUDIO_SIZE", 50*1024*1024),
		MaxDocumentSize: getEnvInt64("MEDIA_MAX_DOCUMENT_SIZE", 100*1024*1024),
		FFmpegBin:       getEnv("FFMPEG_BIN", "ffmpeg"),
	}

	cacheCfg := CacheConfig{
		Dir:            getEnv("MEDIA_CACHE_DIR", filepath.Join(storages, "mediacache")),
		MaxSizeBytes:   getEnvInt64("MEDIA_CACHE_MAX_SIZE", 1024*1024*1024),
		SweepInterval:  getEnvInt("MEDIA_CACHE_SWEEP_INTERVAL", 60),
		StatusInterval: getEnvInt("MEDIA_STATUS_INTERVAL", 5),
	}

	cfg := &Config{
		App:      appCfg,
		Paths:    pathsCfg,
		Database: dbCfg,
		Media:    mediaCfg,
		Cache:    cacheCfg,
		WorkerPool: WorkerPoolConfig{
			MediaWorkers: getEnvInt("MEDIA_WORKERS", 0),
			AudioWorkers: getEnvInt("AUDIO_WORKERS", 0),
		},
	}

	Global = cfg
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(viper.GetString(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(viper.GetString(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := strings.TrimSpace(viper.GetString(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(viper.GetString(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
