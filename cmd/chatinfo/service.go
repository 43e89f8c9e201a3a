package main

import (
	"context"
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/veymont/chatinfo/internal/bot"
)

// program adapts the bot to the service manager's lifecycle.
type program struct {
	cfgPath string
	bot     *bot.Bot
	cancel  context.CancelFunc
	errCh   chan error
}

func (p *program) Start(_ service.Service) error {
	cfg, logger, err := loadConfig(p.cfgPath)
	if err != nil {
		return err
	}
	p.bot = bot.New(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.errCh = make(chan error, 1)
	go func() { p.errCh <- p.bot.Run(ctx) }()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	if p.cancel != nil {
		p.cancel()
		return <-p.errCh
	}
	return nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service [install|uninstall|start|stop|run]",
		Short: "Run or manage chatinfo as a system service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			svcConfig := &service.Config{
				Name:        "chatinfo",
				DisplayName: "chatinfo Telegram bot",
				Description: "Telegram bot that replies with chat information",
				Arguments:   []string{"service", "run"},
			}
			if cfgPath != "" {
				svcConfig.Arguments = append(svcConfig.Arguments, "--config", cfgPath)
			}

			prg := &program{cfgPath: cfgPath}
			svc, err := service.New(prg, svcConfig)
			if err != nil {
				return err
			}

			switch action := args[0]; action {
			case "run":
				return svc.Run()
			case "install", "uninstall", "start", "stop":
				if err := service.Control(svc, action); err != nil {
					return err
				}
				fmt.Printf("service %s: done\n", action)
				return nil
			default:
				return fmt.Errorf("unknown service action %q", action)
			}
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}
