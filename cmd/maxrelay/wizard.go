package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"maxrelay/internal/config"

	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: MAX phone → Telegram bot → recipient → save config",
		Long:  "Asks for the MAX phone number, the Telegram bot token and the recipient's numeric id, then writes the config to --config or the default path.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(cmd.InOrStdin(), cmd.OutOrStdout(), resolveConfigPath())
		},
	}
}

func runWizard(in io.Reader, out io.Writer, cfgPath string) error {
	cfg, err := config.Read(configFile())
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: MAX account
	fmt.Fprintln(out, "\n--- Step 1: MAX account ---")
	fmt.Fprint(out, "Phone number in international format (e.g. +79991234567)")
	phone, err := prompt(cfg.Max.Phone)
	if err != nil {
		return err
	}
	cfg.Max.Phone = phone

	// Step 2: Telegram bot
	fmt.Fprintln(out, "\n--- Step 2: Telegram bot ---")
	fmt.Fprint(out, "Bot token from @BotFather, or an env var (e.g. ${TG_BOT_TOKEN})")
	tokenDef := "${TG_BOT_TOKEN}"
	if cfg.Telegram.Token != "" {
		tokenDef = cfg.Telegram.Token
	}
	token, err := prompt(tokenDef)
	if err != nil {
		return err
	}
	cfg.Telegram.Token = token

	// Step 3: Recipient
	fmt.Fprintln(out, "\n--- Step 3: Recipient ---")
	fmt.Fprint(out, "Numeric Telegram user id that receives every message")
	targetDef := ""
	if cfg.Telegram.TargetUserID != 0 {
		targetDef = strconv.FormatInt(cfg.Telegram.TargetUserID, 10)
	}
	target, err := prompt(targetDef)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil || id == 0 {
		return &config.Error{Problems: []string{fmt.Sprintf("recipient must be a non-zero number, got %q", target)}}
	}
	cfg.Telegram.TargetUserID = id

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(out, "\nWarning: %v\n", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintln(out, "Next: run 'maxrelay login' to authorize MAX, then 'maxrelay run'.")
	return nil
}
