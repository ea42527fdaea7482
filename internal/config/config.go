package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDBPath       = "feedtree.db"
	defaultLogPath      = "feedtree.log"
	defaultPrefsPath    = "feedtree.json"
	defaultWorkers      = 4
	defaultQueueSize    = 64
	defaultFetchTimeout = 20 * time.Second
)

// Config holds runtime settings for the app.
type Config struct {
	DBPath       string
	LogPath      string
	PrefsPath    string
	Workers      int
	QueueSize    int
	FetchTimeout time.Duration

	Debug          bool
	ShowAllCounts  bool
	DropBesideFeed bool
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		DBPath:    os.Getenv("FEEDTREE_DB_PATH"),
		LogPath:   os.Getenv("FEEDTREE_LOG_PATH"),
		PrefsPath: os.Getenv("FEEDTREE_PREFS_PATH"),
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.LogPath == "" {
		cfg.LogPath = defaultLogPath
	}
	if cfg.PrefsPath == "" {
		cfg.PrefsPath = defaultPrefsPath
	}

	var err error
	if cfg.Workers, err = envInt("FEEDTREE_WORKERS", defaultWorkers); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = envInt("FEEDTREE_QUEUE_SIZE", defaultQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.FetchTimeout, err = envDuration("FEEDTREE_FETCH_TIMEOUT", defaultFetchTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Debug, err = envBool("FEEDTREE_DEBUG"); err != nil {
		return Config{}, err
	}
	if cfg.ShowAllCounts, err = envBool("FEEDTREE_SHOW_ALL_COUNTS"); err != nil {
		return Config{}, err
	}
	if cfg.DropBesideFeed, err = envBool("FEEDTREE_DROP_BESIDE_FEED"); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("DBPath is required")
	}
	if c.LogPath == "" {
		return errors.New("LogPath is required")
	}
	if c.PrefsPath == "" {
		return errors.New("PrefsPath is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("Workers must be positive: %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be positive: %d", c.QueueSize)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FetchTimeout must be positive: %s", c.FetchTimeout)
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(key string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
