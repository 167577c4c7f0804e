package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	// Style definitions
	infoColor      = color.New(color.FgHiBlack)
	warnColor      = color.New(color.FgHiYellow)
	errorColor     = color.New(color.FgHiRed)
	fatalColor     = color.New(color.FgHiRed, color.Bold)
	databaseColor  = color.New(color.FgHiBlack)
	playerColor    = color.New(color.FgHiMagenta)
	dspColor       = color.New(color.FgHiBlue)
	extractorColor = color.New(color.FgHiGreen)
	voiceColor     = color.New(color.FgHiCyan)

	IsSilent  = false
	LogToFile = false

	// Global default logger
	Logger *slog.Logger

	// Log file handling
	logFile *os.File
	logPath string
	logMu   sync.Mutex
)

func init() {
	// Initialize with a default handler immediately (Stdout only)
	InitLogger(false, false)
}

// InitLogger initializes the global structured logger
func InitLogger(silent bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	// Clean up previous file if it exists (e.g. during reload)
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	var err error

	// Open log file if requested
	if LogToFile {
		// Determine log file name from executable name
		exePath, exeErr := os.Executable()
		logName := "hibiki.log" // Fallback
		if exeErr == nil {
			logName = filepath.Base(exePath) + ".log"
		}

		logFile, err = os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
		} else {
			writer = io.MultiWriter(os.Stdout, logFile)
			logPath = logName
		}
	} else {
		logPath = ""
	}

	// Force colors to be enabled even if writing to a file/pipe avoids detection
	color.NoColor = false

	handler := NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

// GetLogPath returns the active log file path, or "" when file logging is off.
func GetLogPath() string {
	logMu.Lock()
	defer logMu.Unlock()
	return logPath
}

// --- Log Functions ---

func LogInfo(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...interface{}) {
	slog.Error(fmt.Sprintf(format, v...))
}

func LogFatal(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), slog.LevelError+4, msg) // Custom Fatal level
	os.Exit(1)
}

func LogDebug(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(format, v...))
}

func LogDatabase(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogPlayer(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "player"))
}

func LogDSP(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "dsp"))
}

func LogExtractor(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "extractor"))
}

func LogVoice(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "voice"))
}

func LogBot(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "bot"))
}

func LogCustom(tag string, tagColor *color.Color, format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", tag))
}

// --- Custom Slog Handler ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	timeStr := time.Now().Format("15:04:05")
	var levelStr string
	var levelColor *color.Color

	switch {
	case r.Level >= slog.LevelError+4: // Fatal
		levelStr = "FATAL"
		levelColor = fatalColor
	case r.Level >= slog.LevelError:
		levelStr = "ERROR"
		levelColor = errorColor
	case r.Level >= slog.LevelWarn:
		levelStr = "WARN"
		levelColor = warnColor
	case r.Level >= slog.LevelInfo:
		levelStr = "INFO"
		levelColor = infoColor
	}

	// Extract component if present
	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	// Output: 15:04:05 [INFO] [COMPONENT] Message
	// Timestamp is always printed in default color.
	fmt.Fprintf(h.w, "%s", timeStr)

	if component != "" {
		// Component-specific logs: Level tag (if not INFO) is isolated, Message bleeds component color
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		compColor := getComponentColor(component)
		fmt.Fprintf(h.w, " %s\n", compColor.Sprintf("[%s] %s", component, r.Message))
	} else {
		// General logs: Level tag color bleeds into the message
		fmt.Fprintf(h.w, " %s\n", levelColor.Sprintf("[%s] %s", levelStr, r.Message))
	}

	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(name string) slog.Handler       { return h }

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "PLAYER":
		return playerColor
	case "DSP":
		return dspColor
	case "EXTRACTOR":
		return extractorColor
	case "VOICE":
		return voiceColor
	default:
		return color.New(color.FgCyan)
	}
}
