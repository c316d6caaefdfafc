// Command loomws is a small echo server and interactive client built on the
// loomws library, mostly useful for poking at the protocol by hand.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yusuf-mak/loomws"
)

func main() {
	root := &cobra.Command{
		Use:           "loomws",
		Short:         "WebSocket echo server and client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newConnectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a WebSocket echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	return cmd
}

func runServe(cfg Config) error {
	logger := newLogger(cfg.LogLevel)

	opts := &loomws.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		MaxFragments:   cfg.MaxFragments,
		ReadWait:       time.Duration(cfg.ReadWait),
		WriteWait:      time.Duration(cfg.WriteWait),
		Logger:         logger,
	}
	if cfg.RateLimit.Enabled {
		opts.Limiter = loomws.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	}

	upgrader := loomws.NewUpgrader(opts)
	registry := loomws.NewRegistry()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}
	logger.Info("listening", slog.String("addr", cfg.Listen), slog.Bool("broadcast", cfg.Broadcast))

	return upgrader.Serve(ln, func(conn *loomws.Conn) {
		registry.Register(conn)

		for {
			opcode, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if cfg.Broadcast {
				registry.Broadcast(context.Background(), opcode, payload)
				continue
			}
			if err := conn.WriteMessage(opcode, payload); err != nil {
				return
			}
		}
	})
}

func newConnectCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "connect <ws-url>",
		Short: "Connect to a WebSocket server and exchange text messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			return runConnect(cmd.Context(), args[0], logger)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log handshake and frame events")

	return cmd
}

func runConnect(ctx context.Context, url string, logger *slog.Logger) error {
	dialer := loomws.NewDialer(&loomws.Options{Logger: logger})

	conn, err := dialer.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Info("connected", slog.String("url", url))

	// One goroutine prints inbound messages; the main goroutine owns stdin.
	go func() {
		for {
			text, err := conn.ReadText()
			if err != nil {
				logger.Info("connection closed", slog.String("error", err.Error()))
				os.Exit(0)
			}
			fmt.Println("<", text)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := conn.WriteText(scanner.Text()); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
