package sys

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	_ "github.com/mattn/go-sqlite3"
)

// --- Database Connection & Lifecycle ---

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS guild_player_configs (
			guild_id TEXT PRIMARY KEY,
			volume INTEGER DEFAULT 100,
			repeat_mode INTEGER DEFAULT 0,
			presets TEXT DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS saved_queues (
			guild_id TEXT PRIMARY KEY,
			current_track TEXT,
			tracks TEXT NOT NULL,
			history TEXT NOT NULL DEFAULT '[]',
			saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Bot Persistence ---

// BotConfig helpers track process-level state across restarts.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Guild Player Config ---

type GuildPlayerConfig struct {
	GuildID    snowflake.ID
	Volume     int
	RepeatMode int
	Presets    string
}

func GetGuildPlayerConfig(ctx context.Context, guildID snowflake.ID) (*GuildPlayerConfig, error) {
	row := DB.QueryRowContext(ctx, `
		SELECT volume, repeat_mode, presets FROM guild_player_configs WHERE guild_id = ?
	`, guildID.String())

	cfg := &GuildPlayerConfig{GuildID: guildID, Volume: 100}
	err := row.Scan(&cfg.Volume, &cfg.RepeatMode, &cfg.Presets)
	if err == sql.ErrNoRows {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func SetGuildPlayerConfig(ctx context.Context, cfg *GuildPlayerConfig) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO guild_player_configs (guild_id, volume, repeat_mode, presets)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			volume = excluded.volume,
			repeat_mode = excluded.repeat_mode,
			presets = excluded.presets,
			updated_at = CURRENT_TIMESTAMP
	`, cfg.GuildID.String(), cfg.Volume, cfg.RepeatMode, cfg.Presets)
	return err
}

// --- Saved Queues ---

// SavedQueue carries one guild's serialized playback state. The track
// payloads are opaque to this layer; the player package owns their
// encoding.
type SavedQueue struct {
	GuildID      snowflake.ID
	CurrentTrack string
	Tracks       string
	History      string
	SavedAt      time.Time
}

func SaveQueue(ctx context.Context, sq *SavedQueue) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO saved_queues (guild_id, current_track, tracks, history, saved_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(guild_id) DO UPDATE SET
			current_track = excluded.current_track,
			tracks = excluded.tracks,
			history = excluded.history,
			saved_at = CURRENT_TIMESTAMP
	`, sq.GuildID.String(), sq.CurrentTrack, sq.Tracks, sq.History)
	return err
}

func LoadQueue(ctx context.Context, guildID snowflake.ID) (*SavedQueue, error) {
	row := DB.QueryRowContext(ctx, `
		SELECT current_track, tracks, history, saved_at FROM saved_queues WHERE guild_id = ?
	`, guildID.String())

	sq := &SavedQueue{GuildID: guildID}
	var current sql.NullString
	err := row.Scan(&current, &sq.Tracks, &sq.History, &sq.SavedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sq.CurrentTrack = current.String
	return sq, nil
}

func DeleteQueue(ctx context.Context, guildID snowflake.ID) error {
	_, err := DB.ExecContext(ctx, "DELETE FROM saved_queues WHERE guild_id = ?", guildID.String())
	return err
}

func AllSavedQueues(ctx context.Context) ([]*SavedQueue, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT guild_id, current_track, tracks, history, saved_at FROM saved_queues
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SavedQueue
	for rows.Next() {
		sq := &SavedQueue{}
		var gid string
		var current sql.NullString
		if err := rows.Scan(&gid, &current, &sq.Tracks, &sq.History, &sq.SavedAt); err != nil {
			return nil, err
		}
		sq.GuildID, _ = snowflake.Parse(gid)
		sq.CurrentTrack = current.String
		out = append(out, sq)
	}
	return out, rows.Err()
}
