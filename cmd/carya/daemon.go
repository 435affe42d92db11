package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carya/internal/apiclient"
	"carya/internal/config"
	"carya/internal/cursor"
	"carya/internal/daemon"
	"carya/internal/filecache"
	"carya/internal/journal"
	"carya/internal/mergeui"
	"carya/internal/opqueue"
	"carya/internal/reconciler"
	"carya/internal/repository"
	"carya/internal/storage"
	"carya/internal/wire"
	"carya/internal/wsclient"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Run Carya's sync engine as a background daemon",
	Hidden: true, // Hidden from normal help - used internally
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := repository.New()
		if err != nil {
			log.Fatalf("Failed to initialize repository: %v", err)
		}

		if !repo.Exists() {
			log.Fatalf("Not a Carya workspace. Run 'carya init' first.")
		}

		d := daemon.New(repo.PIDPath(), repo.LogPath())

		if err := d.WritePID(); err != nil {
			log.Fatalf("Failed to write PID file: %v", err)
		}
		defer d.RemovePID()

		logFile, err := os.OpenFile(repo.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()

		slogger := slog.New(slog.NewTextHandler(logFile, nil))
		slog.SetDefault(slogger)

		slogger.Info("starting carya daemon")

		r, err := wireReconciler(repo, slogger)
		if err != nil {
			log.Fatalf("Failed to initialize sync engine: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := r.Init(ctx); err != nil {
			log.Fatalf("Startup reconciliation failed: %v", err)
		}
		go r.reconciler.Run(ctx)

		if err := r.watcher.Start(repo.RootPath()); err != nil {
			log.Fatalf("Failed to start filesystem watcher: %v", err)
		}
		defer r.watcher.Stop()
		defer r.cursors.Stop()

		slogger.Info("carya daemon is now watching for file changes")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)

		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				slogger.Info("received sync signal, forcing full reconciliation")
				if err := r.Init(ctx); err != nil {
					slogger.Warn("forced reconciliation failed", "error", err)
				} else {
					slogger.Info("forced reconciliation complete")
				}
			case os.Interrupt, syscall.SIGTERM:
				slogger.Info("shutting down carya daemon")
				return
			}
		}
	},
}

// runningDaemon bundles the wired engine components the daemon command
// needs after startup: the reconciler itself plus the watcher and
// cursor registry whose lifetimes the command owns directly.
type runningDaemon struct {
	reconciler *reconciler.Reconciler
	watcher    *storage.Watcher
	cursors    *cursor.Registry
}

func (r *runningDaemon) Init(ctx context.Context) error {
	return r.reconciler.Init(ctx)
}

// wsCursorSink forwards locally observed cursor moves to every other
// peer over the sync connection. It never originates a local move
// itself; carya runs headless, with no host-editor channel feeding
// cursor.Registry.ApplyLocal, so in practice this only logs what the
// registry's eviction loop and inbound frames produce.
type wsCursorSink struct {
	ws  *wsclient.WSClient
	log *slog.Logger
}

func (s *wsCursorSink) OnCursorUpdate(pos cursor.Position) {
	frame := wsclient.Frame{
		Type:   wire.MessageCursor,
		Cursor: &wire.CursorMessage{PeerID: pos.PeerID, Path: pos.Path, Offset: pos.Offset},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ws.Send(ctx, frame); err != nil {
		s.log.Warn("cursor: send update failed", "error", err)
	}
}

func (s *wsCursorSink) OnCursorRemoved(peerID, path string) {
	s.log.Debug("cursor: removed", "peer", peerID, "path", path)
}

// wireReconciler constructs every collaborator the reconciler needs and
// returns it wired up, ready for Init/Run.
func wireReconciler(repo *repository.Repository, log *slog.Logger) (*runningDaemon, error) {
	cfg, err := config.Load(repo.CaryaPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := journal.Open(repo.JournalPath())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	token, err := store.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("no saved session token, run 'carya login' first")
	}

	cache := filecache.New()
	cached, err := store.LoadFiles()
	if err != nil {
		return nil, fmt.Errorf("load cached files: %w", err)
	}
	for _, f := range cached {
		cache.Create(f)
	}

	deques := opqueue.NewRegistry()
	st := storage.NewLocal(repo.RootPath())

	api := apiclient.NewHTTPClient(baseURL(cfg), log)
	api.SetToken(token)

	scheme := "ws"
	if cfg.UseTLS {
		scheme = "wss"
	}
	ws := wsclient.New(scheme, cfg.Domain, token, log)
	ws.OnReconnect(func() {
		log.Info("wsclient reconnected")
	})
	if err := ws.Connect(context.Background()); err != nil {
		return nil, fmt.Errorf("connect to sync endpoint: %w", err)
	}

	rec := reconciler.New(cache, deques, st, api, ws, mergeui.New(), cfg, log)
	rec.SetJournal(store)

	cursors := cursor.NewRegistry(cache, &wsCursorSink{ws: ws, log: log}, 30*time.Second)
	cursors.Start()
	rec.OnCursor(func(m wire.CursorMessage) {
		cursors.ApplyRemote(m.PeerID, m.Path, m.Offset)
	})

	var watchHandler storage.LocalEventHandler = rec
	w, err := storage.New(watchHandler, log)
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	return &runningDaemon{reconciler: rec, watcher: w, cursors: cursors}, nil
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Carya sync daemon in the background",
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := repository.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if !repo.Exists() {
			fmt.Fprintf(os.Stderr, "Error: Not a Carya workspace. Run 'carya init' first.\n")
			os.Exit(1)
		}

		d := daemon.New(repo.PIDPath(), repo.LogPath())

		if d.IsRunning() {
			fmt.Println("Carya daemon is already running")
			os.Exit(0)
		}

		if err := d.Start([]string{"daemon"}); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("✓ Carya daemon started")
		fmt.Printf("  Log file: %s\n", d.GetLogPath())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Carya sync daemon",
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := repository.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		d := daemon.New(repo.PIDPath(), repo.LogPath())

		if !d.IsRunning() {
			fmt.Println("Carya daemon is not running")
			os.Exit(0)
		}

		if err := d.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("✓ Carya daemon stopped")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check if the Carya sync daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := repository.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		d := daemon.New(repo.PIDPath(), repo.LogPath())

		if d.IsRunning() {
			pid, _ := d.ReadPID()
			fmt.Printf("✓ Carya daemon is running (PID: %d)\n", pid)
			fmt.Printf("  Log file: %s\n", d.GetLogPath())
		} else {
			fmt.Println("Carya daemon is not running")
		}
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force the running daemon to reconcile immediately",
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := repository.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		d := daemon.New(repo.PIDPath(), repo.LogPath())

		if !d.IsRunning() {
			fmt.Println("Carya daemon is not running")
			os.Exit(1)
		}

		if err := d.Resync(); err != nil {
			fmt.Fprintf(os.Stderr, "Error sending sync signal: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("✓ Sync signal sent to daemon")
		fmt.Printf("  Check log file for results: %s\n", d.GetLogPath())
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
}
