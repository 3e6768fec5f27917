package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/caioqm/deskchat/internal/config"
	"github.com/caioqm/deskchat/internal/daemon"
	"github.com/caioqm/deskchat/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	chatFlag := flag.String("chat", "", "chat id to sync (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	chatID := *chatFlag
	if chatID == "" {
		chatID = cfg.DefaultChat
	}
	if chatID == "" {
		fmt.Fprintln(os.Stderr, "error: no chat id given; pass -chat or set default_chat in config")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ChatID:      chatID,
			Config:      cfg,
		}),
	)

	app.Run()
}
