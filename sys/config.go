package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	OwnerIDs     []string
	Silent       bool

	// Player tunables
	MaxQueueSize       int
	MaxHistorySize     int
	BufferingTimeout   time.Duration
	ConnectionTimeout  time.Duration
	LeaveOnEndCooldown time.Duration
}

var GlobalConfig *Config

// Validate ensures the configuration is valid and meets requirements.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}

	// Basic Snowflake validation for GuildID if provided
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}

	return nil
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	token := os.Getenv("DISCORD_TOKEN")
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))

	ownerIDsStr := os.Getenv("OWNER_IDS")
	var ownerIDs []string
	if ownerIDsStr != "" {
		ownerIDs = strings.Split(ownerIDsStr, ",")
		for i := range ownerIDs {
			ownerIDs[i] = strings.TrimSpace(ownerIDs[i])
		}
	}

	cfg := &Config{
		Token:              token,
		GuildID:            os.Getenv("GUILD_ID"),
		DatabasePath:       fmt.Sprintf("%s?_journal_mode=WAL&_timeout=5000", dbPath),
		OwnerIDs:           ownerIDs,
		Silent:             silent,
		MaxQueueSize:       envInt("MAX_QUEUE_SIZE", 0),
		MaxHistorySize:     envInt("MAX_HISTORY_SIZE", 100),
		BufferingTimeout:   envDuration("BUFFERING_TIMEOUT", time.Second),
		ConnectionTimeout:  envDuration("CONNECTION_TIMEOUT", 20*time.Second),
		LeaveOnEndCooldown: envDuration("LEAVE_ON_END_COOLDOWN", 5*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "hibiki"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
