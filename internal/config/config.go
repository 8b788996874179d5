package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "fnworker.db"
	defaultDockerHost        = "unix:///var/run/docker.sock"
	defaultNetwork           = "bridge"
	defaultProxyTimeout      = 30 * time.Second
	defaultProxyReadyTimeout = 10 * time.Second

	envListenAddr        = "FNWORKER_LISTEN_ADDR"
	envDBPath            = "FNWORKER_DB_PATH"
	envLogLevel          = "FNWORKER_LOG_LEVEL"
	envDockerHost        = "FNWORKER_DOCKER_HOST"
	envNetwork           = "FNWORKER_NETWORK"
	envRootless          = "FNWORKER_ROOTLESS"
	envImagesFile        = "FNWORKER_IMAGES_FILE"
	envWasmCacheDir      = "FNWORKER_WASM_CACHE_DIR"
	envWasmMemoryPages   = "FNWORKER_WASM_MEMORY_PAGES"
	envProxyTimeout      = "FNWORKER_PROXY_TIMEOUT_S"
	envProxyReadyTimeout = "FNWORKER_PROXY_READY_TIMEOUT_S"
)

// Config holds application configuration loaded from environment variables.
//
// DockerHost, Network and Rootless are only defaults: the API and CLI copy
// them into each call when the caller leaves them out.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	DockerHost string
	Network    string
	Rootless   bool
	ImagesFile string

	WasmCacheDir    string
	WasmMemoryPages uint32

	ProxyTimeout      time.Duration
	ProxyReadyTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numeric or boolean values are reported rather than ignored.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:        defaultListenAddr,
		DBPath:            defaultDBPath,
		LogLevel:          slog.LevelInfo,
		DockerHost:        defaultDockerHost,
		Network:           defaultNetwork,
		ProxyTimeout:      defaultProxyTimeout,
		ProxyReadyTimeout: defaultProxyReadyTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envDockerHost); v != "" {
		cfg.DockerHost = v
	}
	if v := os.Getenv(envNetwork); v != "" {
		cfg.Network = v
	}
	cfg.ImagesFile = os.Getenv(envImagesFile)
	cfg.WasmCacheDir = os.Getenv(envWasmCacheDir)

	// Anything but the privileged socket is assumed rootless.
	cfg.Rootless = cfg.DockerHost != defaultDockerHost
	if v := os.Getenv(envRootless); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envRootless, err)
		}
		cfg.Rootless = b
	}

	if v := os.Getenv(envWasmMemoryPages); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envWasmMemoryPages, err)
		}
		cfg.WasmMemoryPages = uint32(n)
	}

	var err error
	if cfg.ProxyTimeout, err = seconds(envProxyTimeout, cfg.ProxyTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ProxyReadyTimeout, err = seconds(envProxyReadyTimeout, cfg.ProxyReadyTimeout); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// seconds reads a positive whole number of seconds from env, or returns def.
func seconds(env string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", env, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %d", env, n)
	}
	return time.Duration(n) * time.Second, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
