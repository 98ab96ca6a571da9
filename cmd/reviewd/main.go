package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container
	"gopkg.in/natefinch/lumberjack.v2"

	githubadapter "github.com/calebhart/reviewd/internal/adapter/driven/github"
	"github.com/calebhart/reviewd/internal/adapter/driven/gitexec"
	sqliteadapter "github.com/calebhart/reviewd/internal/adapter/driven/sqlite"
	"github.com/calebhart/reviewd/internal/adapter/driving/ctlsock"
	"github.com/calebhart/reviewd/internal/config"
	enginesync "github.com/calebhart/reviewd/internal/sync"
)

func main() {
	root := &cobra.Command{
		Use:   "reviewd",
		Short: "Local-first pull request review client",
		Long: "reviewd mirrors pull requests from GitHub into a local SQLite store\n" +
			"and a git object mirror, queues review edits offline, and uploads\n" +
			"them when connectivity allows.",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newOpenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization engine and control socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func serve(verbose bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.LogPath, verbose)

	slog.Info("config loaded",
		"db_path", cfg.DBPath,
		"mirror_dir", cfg.MirrorDir,
		"socket_path", cfg.SocketPath,
		"sync_interval", cfg.SyncInterval,
		"github_username", cfg.GitHubUsername,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	mirror, err := gitexec.NewMirror(ctx, cfg.MirrorDir)
	if err != nil {
		return err
	}

	engine := enginesync.New(enginesync.Options{
		Store:    sqliteadapter.NewStore(db),
		Remote:   githubadapter.NewClient(cfg.GitHubToken, cfg.GitHubUsername),
		Git:      mirror,
		Username: cfg.GitHubUsername,
		Backoff:  cfg.Backoff,
	})

	sock := ctlsock.NewServer(engine, cfg.SocketPath)
	if err := sock.Listen(); err != nil {
		return err
	}

	go func() {
		if err := sock.Serve(ctx); err != nil {
			slog.Error("control socket error", "error", err)
		}
	}()

	scheduler := enginesync.NewScheduler(engine, cfg.SyncInterval, cfg.HouseInterval, cfg.PruneAge)
	go scheduler.Run(ctx)

	// Drain events so the publish path never stalls; a UI would consume
	// these instead.
	go func() {
		for range engine.Events() {
		}
	}()

	slog.Info("reviewd started")
	engine.Run(ctx)
	slog.Info("shutdown complete")
	return nil
}

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <pull-request-url>",
		Short: "Ask a running instance to sync one pull request now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return sendOpen(cfg.SocketPath, args[0])
		},
	}
}

// sendOpen performs one round on the control socket: send the command,
// report the reply.
func sendOpen(socketPath, rawURL string) error {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return fmt.Errorf("is reviewd serve running? %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := fmt.Fprintf(conn, "open %s\n", rawURL); err != nil {
		return err
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return err
	}
	reply = strings.TrimSpace(reply)
	if reply != "ok" {
		return fmt.Errorf("%s", reply)
	}

	fmt.Println("ok")
	return nil
}

// setupLogging writes JSON logs to a size-rotated file; with verbose also
// at debug level.
func setupLogging(path string, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
}
