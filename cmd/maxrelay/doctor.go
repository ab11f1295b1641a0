package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"maxrelay/internal/channel"
	"maxrelay/internal/config"
	"maxrelay/internal/max"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your maxrelay installation",
		Long: `Verifies that maxrelay's configuration, session database, Telegram bot
and MAX endpoint are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("maxrelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file (optional)
			if path := configFile(); path != "" {
				printPass("Config file", path)
				passed++
			} else {
				printWarn("Config file", "none; using defaults and environment")
				warned++
			}

			// 2. Config loads and validates
			cfg, err := config.Load(configFile())
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			// 3. Session database writable and authorized
			var sessions *max.SessionStore
			if err := os.MkdirAll(cfg.Max.WorkDir, 0o700); err != nil {
				printFail("Session database", fmt.Sprintf("cannot create %s: %v", cfg.Max.WorkDir, err))
				failed++
			} else if sessions, err = max.OpenSessionStore(cfg.Max.WorkDir); err != nil {
				printFail("Session database", err.Error())
				failed++
			} else {
				defer sessions.Close()
				if err := sessions.Ping(ctx); err != nil {
					printFail("Session database", err.Error())
					failed++
				} else if sess, err := sessions.Load(ctx, cfg.Max.Phone); err != nil {
					printFail("Session database", err.Error())
					failed++
				} else if sess.Token == "" {
					printWarn("MAX login", "no token stored; run 'maxrelay login'")
					warned++
				} else {
					printPass("MAX login", "token stored")
					passed++
				}
			}

			// 4. Telegram bot token
			if tg, err := channel.NewTelegram(channel.TelegramConfig{
				Token:       cfg.Telegram.Token,
				APIEndpoint: cfg.Telegram.APIEndpoint,
				Logger:      logger,
			}); err != nil {
				printFail("Telegram bot", err.Error())
				failed++
			} else {
				printPass("Telegram bot", "@"+tg.Username())
				passed++
			}

			// 5. MAX endpoint reachable
			if sessions != nil {
				client := max.NewClient(max.Config{
					URL:      cfg.Max.URL,
					Phone:    cfg.Max.Phone,
					Sessions: sessions,
					Logger:   logger,
				})
				if err := client.Probe(ctx); err != nil {
					printFail("MAX endpoint", err.Error())
					failed++
				} else {
					printPass("MAX endpoint", cfg.Max.URL)
					passed++
				}
			}

			// 6. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics listen", cfg.Metrics.Listen+" available")
					passed++
				}
			}

			// 7. Log file writable
			if cfg.Log.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.Log.File)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running maxrelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nmaxrelay may work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! maxrelay is ready to run.\n")
			}
			return nil
		},
	}
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
