package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"maxrelay/internal/config"
	"maxrelay/internal/max"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "maxrelay",
		Short: "Relay MAX messages to a Telegram user",
		Long: `maxrelay forwards every message received by a MAX account, including
photos, videos and files, to one Telegram chat through a bot.`,
		SilenceUsage: true,
		RunE:         runRelay,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional YAML config file; environment variables override it")

	root.AddCommand(runCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(logoutCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		if errors.Is(err, max.ErrNotLoggedIn) {
			fmt.Fprintln(os.Stderr, "MAX session is not authorized. Run 'maxrelay login' first.")
			os.Exit(2)
		}
		if config.IsConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start relaying (default command)",
		Long:  "Connects to MAX and Telegram and relays until interrupted. Press Ctrl+C to stop.",
		RunE:  runRelay,
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize the MAX account with an SMS code",
		Long:  "Requests an SMS code for the configured phone, asks for it on the terminal and stores the session token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(configFile())
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Max.Phone) == "" {
				return &config.Error{Problems: []string{"max.phone (MAX_PHONE_NUMBER) is required"}}
			}
			log, closeLog, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := os.MkdirAll(cfg.Max.WorkDir, 0o700); err != nil {
				return fmt.Errorf("work dir: %w", err)
			}
			sessions, err := max.OpenSessionStore(cfg.Max.WorkDir)
			if err != nil {
				return err
			}
			defer sessions.Close()

			client := max.NewClient(max.Config{
				URL:      cfg.Max.URL,
				Phone:    cfg.Max.Phone,
				Sessions: sessions,
				Logger:   log.With("component", "max"),
			})
			return client.Login(ctx, terminalPrompt(cmd))
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored MAX token (the device id is kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(configFile())
			if err != nil {
				return err
			}
			sessions, err := max.OpenSessionStore(cfg.Max.WorkDir)
			if err != nil {
				return err
			}
			defer sessions.Close()
			if err := sessions.ClearToken(cmd.Context(), cfg.Max.Phone); err != nil {
				return err
			}
			logger.Info("max token cleared", "work_dir", cfg.Max.WorkDir)
			return nil
		},
	}
}

// terminalPrompt reads the SMS code from the command's stdin.
func terminalPrompt(cmd *cobra.Command) max.CodePrompt {
	return func(ctx context.Context) (string, error) {
		fmt.Fprint(cmd.ErrOrStderr(), "SMS code: ")
		lines := make(chan string, 1)
		errs := make(chan error, 1)
		go func() {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				errs <- err
				return
			}
			lines <- line
		}()
		select {
		case line := <-lines:
			return line, nil
		case err := <-errs:
			return "", fmt.Errorf("read code: %w", err)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Show, check and locate the effective configuration (file plus environment).",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(configFile())
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(config.Sanitize(cfg))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. relay.workers)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(configFile())
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), val)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(configFile()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.Template), 0o600); err != nil {
				return err
			}
			logger.Info("config written", "path", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "maxrelay %s\n", version)
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// configFile is the file to load: --config, else the default path if present.
func configFile() string {
	if configPath != "" {
		return configPath
	}
	if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
		return config.DefaultConfigPath()
	}
	return ""
}
