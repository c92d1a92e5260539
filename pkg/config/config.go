package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Token   string
	AppID   string
	GuildID string // empty registers global commands

	// storage
	DatabaseType string // postgres | mysql | sqlite
	DatabaseDSN  string
	DatabaseLog  bool

	// queue defaults (guild settings override them)
	GracePeriod   time.Duration
	PullBatchSize int

	// displays
	BlockCapacity int
	Debounce      time.Duration
	RatePerSecond float64
	RateBurst     int
	QueueColor    int

	HTTPAddr       string // empty disables the API
	ResyncSchedule string // cron spec, empty disables
	AdminRoleIDs   []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from getenv; Load uses the process env.
func FromEnv(getenv func(string) string) (*Config, error) {
	var errs []error
	num := func(key string, def int) int {
		raw := strings.TrimSpace(getenv(key))
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return n
	}

	cfg := &Config{
		Token:          getenv("DISCORD_BOT_TOKEN"),
		AppID:          getenv("DISCORD_APP_ID"),
		GuildID:        getenv("DISCORD_GUILD_ID"),
		DatabaseType:   strings.ToLower(firstNonEmpty(getenv("DATABASE_TYPE"), "postgres")),
		DatabaseLog:    parseBool(getenv("DATABASE_LOG")),
		GracePeriod:    time.Duration(num("GRACE_PERIOD_SECONDS", 30)) * time.Second,
		PullBatchSize:  num("PULL_BATCH_SIZE", 1),
		BlockCapacity:  num("DISPLAY_BLOCK_CAPACITY", 25),
		Debounce:       time.Duration(num("DISPLAY_DEBOUNCE_MS", 1500)) * time.Millisecond,
		RatePerSecond:  1,
		RateBurst:      num("DISPLAY_RATE_BURST", 5),
		HTTPAddr:       firstNonEmpty(getenv("HTTP_ADDR"), ":8080"),
		ResyncSchedule: firstNonEmpty(getenv("RESYNC_SCHEDULE"), "@every 10m"),
	}
	if raw := strings.TrimSpace(getenv("DISPLAY_RATE_PER_SECOND")); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f <= 0 {
			errs = append(errs, fmt.Errorf("DISPLAY_RATE_PER_SECOND: invalid %q", raw))
		} else {
			cfg.RatePerSecond = f
		}
	}
	if raw := strings.TrimSpace(getenv("QUEUE_COLOR")); raw != "" {
		c, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 16, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("QUEUE_COLOR: %w", err))
		}
		cfg.QueueColor = int(c)
	}
	for _, id := range strings.Split(getenv("ADMIN_ROLE_IDS"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.AdminRoleIDs = append(cfg.AdminRoleIDs, id)
		}
	}
	// "-" turns an optional feature off
	if cfg.HTTPAddr == "-" {
		cfg.HTTPAddr = ""
	}
	if cfg.ResyncSchedule == "-" {
		cfg.ResyncSchedule = ""
	}

	cfg.DatabaseDSN = getenv("DATABASE_DSN")
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = buildDSN(cfg.DatabaseType, getenv)
	}

	if cfg.Token == "" {
		errs = append(errs, errors.New("missing DISCORD_BOT_TOKEN"))
	}
	if cfg.AppID == "" {
		errs = append(errs, errors.New("missing DISCORD_APP_ID"))
	}
	switch cfg.DatabaseType {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_TYPE: unknown %q", cfg.DatabaseType))
	}
	if cfg.DatabaseDSN == "" {
		errs = append(errs, errors.New("missing DATABASE_DSN (or DATABASE_HOST/NAME)"))
	}
	if cfg.GracePeriod < 0 {
		errs = append(errs, errors.New("GRACE_PERIOD_SECONDS must not be negative"))
	}
	if cfg.PullBatchSize < 1 {
		errs = append(errs, errors.New("PULL_BATCH_SIZE must be at least 1"))
	}
	if cfg.BlockCapacity < 1 || cfg.BlockCapacity > 50 {
		errs = append(errs, errors.New("DISPLAY_BLOCK_CAPACITY must be between 1 and 50"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildDSN(dbType string, getenv func(string) string) string {
	host, name := getenv("DATABASE_HOST"), getenv("DATABASE_NAME")
	if dbType == "sqlite" {
		return name
	}
	if host == "" || name == "" {
		return ""
	}
	user, pass, port := getenv("DATABASE_USERNAME"), getenv("DATABASE_PASSWORD"), getenv("DATABASE_PORT")
	if dbType == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			user, pass, host, firstNonEmpty(port, "3306"), name)
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, firstNonEmpty(port, "5432"), user, pass, name)
}

func firstNonEmpty(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func parseBool(v string) bool {
	v = strings.TrimSpace(v)
	return v == "1" || strings.EqualFold(v, "true")
}

func (c *Config) Redacted() string {
	tok := "[set]"
	if c.Token == "" {
		tok = "[empty]"
	}
	return fmt.Sprintf(
		"appID=%s guildID=%s db=%s grace=%s pull=%d blockCap=%d debounce=%s http=%q resync=%q token=%s",
		c.AppID, c.GuildID, c.DatabaseType, c.GracePeriod, c.PullBatchSize,
		c.BlockCapacity, c.Debounce, c.HTTPAddr, c.ResyncSchedule, tok,
	)
}
