package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvFile          = "GROUPCAST_ENV_FILE"
	EnvTelegramToken = "GROUPCAST_TELEGRAM_TOKEN"
	EnvOpsToken      = "GROUPCAST_OPS_TOKEN"
)

// LoadEnv loads a dotenv file into the process environment without
// overriding variables that are already set. The file is $GROUPCAST_ENV_FILE
// or ".env" next to configPath. A missing default file is not an error.
func LoadEnv(configPath string) (string, error) {
	path := strings.TrimSpace(os.Getenv(EnvFile))
	explicit := path != ""
	if !explicit {
		path = filepath.Join(filepath.Dir(configPath), ".env")
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

// applyEnv overlays secrets taken from the environment.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOpsToken)); v != "" {
		cfg.Ops.Token = v
	}
}
