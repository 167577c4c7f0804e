package sys

// Log / Error messages
const (
	// Config
	MsgConfigFailedToLoad = "Failed to load config: %v"
	MsgConfigMissingToken = "DISCORD_TOKEN is not set in .env file"

	// Database
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"

	// Bot lifecycle
	MsgBotStarting      = "Starting %s..."
	MsgBotReady         = "%s is ready! (ID: %s) (PID: %d)"
	MsgBotShutdown      = "Shutting down %s..."
	MsgBotKillingOld    = "Killing running instance... (PID: %d)"
	MsgBotKillFail      = "Failed to kill old instance: %v"
	MsgBotOldTerminated = "Old instance terminated."
	MsgBotPIDWriteFail  = "Failed to write PID file: %v"
	MsgBotRegisterFail  = "Command registration failed: %v"

	// Player
	MsgPlayerQueueSaved    = "Saved %d queued tracks for guild %s"
	MsgPlayerQueueRestored = "Restored %d queued tracks for guild %s"
	MsgPlayerStoreFail     = "Queue persistence failed: %v"

	MsgGenericError = "%v"
)
