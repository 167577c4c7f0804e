package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"

	"github.com/leeineian/hibiki/sys"
)

// ============================================================================
// Entrypoint
// ============================================================================

const (
	MsgInitializing         = "Initializing %s..."
	MsgDatabaseInitFail     = "Failed to initialize database: %v"
	MsgPIDOpenFail          = "Failed to open PID file: %v"
	MsgPIDLockFail          = "Failed to lock PID file: %v"
	MsgBotStubbornOld       = "Old instance (PID: %d) ignored SIGTERM, sending SIGKILL..."
	MsgBotKillResistant     = "Old instance (PID: %d) survived SIGKILL, continuing anyway"
	MsgBotRestarting        = "Restarting..."
	MsgBotStartPathFail     = "Failed to resolve executable path: %v"
	MsgBotExecFail          = "Failed to exec new process: %v"
	MsgBotClientCreateFail  = "failed to create client after %d attempts: %w"
	MsgBotClientRetry       = "Client creation failed (attempt %d/5): %v"
	MsgBotSkipReg           = "Skipping command registration (-skip-reg)"
	MsgBotGatewayFail       = "failed to open gateway: %w"
	MsgDaemonShutdown       = "Shutting down all daemons..."
	MsgSignalDumpParams     = "SIGUSR1 received, dumping goroutines..."
	MsgSignalDumpCreateFail = "Failed to create goroutine dump: %v"
	MsgSignalDumpSuccess    = "Goroutine dump written to goroutines.txt"
	BotPIDFile              = ".bot.pid"
)

func main() {
	// 1. Load configuration early
	cfg, err := sys.LoadConfig()
	if err != nil {
		sys.LogFatal(sys.MsgConfigFailedToLoad, err)
	}

	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	clearAll := flag.Bool("clear-all", false, "Force clear guild commands (scan all guilds)")
	flag.Parse()

	// 2. Initialize Logger (handle flags)
	sys.InitLogger(*silent || cfg.Silent, true)

	// 3. Log Starting Message
	botName := sys.GetProjectName()
	sys.LogInfo(sys.MsgBotStarting, botName)

	// 4. Initialize Database & Logs
	sys.LogInfo(MsgInitializing, filepath.Base(cfg.DatabasePath))
	if logName := sys.GetLogPath(); logName != "" {
		sys.LogInfo(MsgInitializing, filepath.Base(logName))
	}

	if err := sys.InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		sys.LogFatal(MsgDatabaseInitFail, err)
	}
	defer sys.CloseDatabase()

	// 5. Open or create the PID file
	f, err := os.OpenFile(BotPIDFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		sys.LogFatal(MsgPIDOpenFail, err)
	}
	defer f.Close()

	// 6. Try to acquire an exclusive lock
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}

		if err != syscall.EWOULDBLOCK {
			sys.LogFatal(MsgPIDLockFail, err)
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil {
			_ = f.Close()
			<-ticker.C
			f, _ = os.OpenFile(BotPIDFile, os.O_RDWR|os.O_CREATE, 0644)
			continue
		}

		if oldPid == os.Getpid() {
			break
		}

		process, procErr := os.FindProcess(oldPid)
		if procErr != nil {
			<-ticker.C
			continue
		}

		sys.LogInfo(sys.MsgBotKillingOld, oldPid)
		_ = process.Signal(syscall.SIGTERM)

		terminated := false
		timeout := time.After(5 * time.Second)
	waitLoop:
		for {
			select {
			case <-ticker.C:
				if err := process.Signal(syscall.Signal(0)); err != nil {
					terminated = true
					break waitLoop
				}
			case <-timeout:
				break waitLoop
			}
		}

		if !terminated {
			sys.LogWarn(MsgBotStubbornOld, oldPid)
			_ = process.Signal(syscall.SIGKILL)

			killTimeout := time.After(2 * time.Second)
			killTicker := time.NewTicker(50 * time.Millisecond)
			defer killTicker.Stop()

		killWait:
			for {
				select {
				case <-killTicker.C:
					if err := process.Signal(syscall.Signal(0)); err != nil {
						break killWait
					}
				case <-killTimeout:
					sys.LogWarn(MsgBotKillResistant, oldPid)
					break killWait
				}
			}
		}

		sys.LogInfo(sys.MsgBotOldTerminated)
	}

	// 7. We have the lock. Write our PID.
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()

	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = os.Remove(BotPIDFile)
	}()

	// 8. Run bot (blocks until shutdown signal)
	if err := run(cfg, *silent, *skipReg, *clearAll); err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}

	// 9. Handle Reboot
	if RestartRequested {
		sys.LogInfo(MsgBotRestarting)
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(BotPIDFile)

		args := os.Args
		if !slices.Contains(args, "-skip-reg") {
			args = append(args, "-skip-reg")
		}

		exePath, err := os.Executable()
		if err != nil {
			sys.LogFatal(MsgBotStartPathFail, err)
		}

		if err := syscall.Exec(exePath, args, os.Environ()); err != nil {
			sys.LogFatal(MsgBotExecFail, err)
		}
	}
}

func run(cfg *sys.Config, silent bool, skipReg bool, clearAll bool) error {
	// 1. Setup global context that responds to shutdown signals
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	// SIGUSR1 dumps all goroutines for stuck-state debugging
	safeGo(func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGUSR1)
		for range sigChan {
			sys.LogInfo(MsgSignalDumpParams)
			f, err := os.Create("goroutines.txt")
			if err != nil {
				sys.LogError(MsgSignalDumpCreateFail, err)
				continue
			}
			buf := make([]byte, 1<<20)
			length := runtime.Stack(buf, true)
			_, _ = f.Write(buf[:length])
			_ = f.Close()
			sys.LogInfo(MsgSignalDumpSuccess)
		}
	})

	SetAppContext(ctx)

	// 2. Create disgo client with retries for network resilience
	var client bot.Client
	var err error
	for i := 1; i <= 5; i++ {
		client, err = CreateClient(ctx, cfg)
		if err == nil {
			break
		}
		if i == 5 {
			return fmt.Errorf(MsgBotClientCreateFail, i, err)
		}
		sys.LogWarn(MsgBotClientRetry, i, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	defer client.Close(ctx)

	// 3. Command Registration
	if !skipReg {
		if err := RegisterCommands(client, cfg.GuildID, clearAll); err != nil {
			sys.LogError(sys.MsgBotRegisterFail, err)
		}
	} else {
		sys.LogInfo(MsgBotSkipReg)
	}

	// 4. Connect to Gateway
	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf(MsgBotGatewayFail, err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	sys.LogInfo(MsgDaemonShutdown)
	ShutdownDaemons(context.Background())

	sys.LogInfo(sys.MsgBotShutdown, sys.GetProjectName())

	return nil
}
