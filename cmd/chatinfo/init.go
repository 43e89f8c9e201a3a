package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/veymont/chatinfo/internal/config"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively create a starter configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("output")
			return runInit(out)
		},
	}
	cmd.Flags().StringP("output", "o", "chatinfo.yaml", "Where to write the configuration")
	return cmd
}

func runInit(out string) error {
	var (
		token      string
		mode       = "polling"
		webhookURL string
		opsListen  = ":8081"
		enableOps  = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot token").
				Description("From @BotFather, looks like 123456:ABC-DEF...").
				EchoMode(huh.EchoModePassword).
				Value(&token),
			huh.NewSelect[string]().
				Title("Update mode").
				Options(huh.NewOptions("polling", "webhook")...).
				Value(&mode),
			huh.NewConfirm().
				Title("Enable the ops HTTP server (health, metrics)?").
				Value(&enableOps),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if mode == "webhook" {
		err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Public webhook URL").
				Description("Telegram will POST updates here").
				Value(&webhookURL),
		)).Run()
		if err != nil {
			return err
		}
		enableOps = true // webhook mode mounts on the ops server
	}

	cfg := config.Config{}
	cfg.Telegram.Token = token
	cfg.Telegram.Mode = mode
	cfg.Telegram.WebhookURL = webhookURL
	if enableOps {
		cfg.Ops.Listen = opsListen
	}
	cfg.Defaults()

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("init: marshal config: %w", err)
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("init: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return fmt.Errorf("init: write %s: %w", out, err)
	}

	fmt.Printf("Wrote %s — start the bot with: chatinfo start -c %s\n", out, out)
	return nil
}
