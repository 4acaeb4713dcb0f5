package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "WATCHFOLDER_"

// LoadDotEnv loads the nearest .env walking up from the working directory,
// stopping at the home directory. Variables already set win.
func LoadDotEnv() string {
	path := findDotEnv()
	if path == "" {
		return ""
	}
	if err := godotenv.Load(path); err != nil {
		return ""
	}
	return path
}

// ResolvePath picks the settings file: explicit flag, WATCHFOLDER_CONFIG,
// then the user config dir.
func ResolvePath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if fromEnv := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG")); fromEnv != "" {
		return fromEnv
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "watchfolder", DefaultSettingsFile)
	}
	return DefaultSettingsFile
}

// ApplyEnv overrides daemon settings from WATCHFOLDER_* variables.
func ApplyEnv(daemon *Daemon) {
	if daemon == nil {
		return
	}
	if value := envOrFile("DATA_DIR"); value != "" {
		daemon.DataDir = value
	}
	if value := envOrFile("LOG_LEVEL"); value != "" {
		daemon.LogLevel = value
	}
	if value := envOrFile("LOG_FORMAT"); value != "" {
		daemon.LogFormat = value
	}
	if value := envOrFile("HTTP_ADDR"); value != "" {
		daemon.HTTPAddr = value
	}
	if value := envOrFile("TOKEN"); value != "" {
		daemon.AuthToken = value
	}
	if value := envOrFile("SETTLE_MS"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
			daemon.SettleMillis = parsed
		}
	}
	if value := envOrFile("MOVE_ATTEMPTS"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			daemon.MoveAttempts = parsed
		}
	}
}

// ResolvedDataDir returns the configured data dir or the user cache default.
func (daemon Daemon) ResolvedDataDir() string {
	if strings.TrimSpace(daemon.DataDir) != "" {
		return daemon.DataDir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "watchfolder")
	}
	return ".watchfolder"
}

func envOrFile(name string) string {
	if value := strings.TrimSpace(os.Getenv(envPrefix + name)); value != "" {
		return value
	}
	if path := strings.TrimSpace(os.Getenv(envPrefix + name + "_FILE")); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

func findDotEnv() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	home, _ := os.UserHomeDir()
	home = filepath.Clean(home)
	dir := filepath.Clean(cwd)
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		if dir == home {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
