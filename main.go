// parley - offline-first conversation client.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jeranaias/parley/internal/cli"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/convstate"
	"github.com/jeranaias/parley/internal/send"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/store"
	"github.com/jeranaias/parley/internal/stream"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer db.Close()

	state := convstate.NewStore()
	client := stream.NewClient(cfg.Server.BaseURL)
	client.SetRequestTimeout(cfg.Server.RequestTimeout())

	historyFile, err := cfg.HistoryFile()
	if err != nil {
		return err
	}

	// The app is built first so the engine callbacks can target it; the
	// controller and coordinator are attached below.
	app := cli.NewApp(cli.Deps{
		Config: cfg,
		Store:  db,
		State:  state,
		Client: client,
	}, historyFile)

	controller := session.New(session.Config{
		Store:                 db,
		State:                 state,
		OnNotify:              app.OnNotify,
		OnStatus:              app.OnStatus,
		OnConversationCreated: app.OnConversationCreated,
	})

	coordinator := send.New(send.Config{
		Server:          client,
		Store:           db,
		State:           state,
		Controller:      controller,
		OnNotify:        app.OnNotify,
		ResendPerMinute: cfg.Send.ResendPerMinute,
	})

	app.Attach(controller, coordinator)

	// Hot-reload config edits; the server URL and request timeout take
	// effect live.
	cfgPath, err := config.DefaultPath()
	if err == nil {
		if watcher, werr := config.Watch(cfgPath, func(next *config.Config) {
			client.SetBaseURL(next.Server.BaseURL)
			client.SetRequestTimeout(next.Server.RequestTimeout())
		}); werr == nil {
			defer watcher.Close()
		} else {
			log.Printf("CONFIG: hot reload disabled: %v", werr)
		}
	}

	defer controller.Abort()
	return app.Run(context.Background())
}
