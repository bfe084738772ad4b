/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/logging"
)

// CLI is the speech-cli command tree
type CLI struct {
	LogLevel string `env:"LOG_LEVEL" default:"warn" enum:"debug,info,warn,error" help:"Log level"`

	Transcribe TranscribeCmd `cmd:"" help:"Transcribe a recording"`
	Metrics    MetricsCmd    `cmd:"" help:"Transcribe a recording and compute speech metrics"`
	Keywords   KeywordsCmd   `cmd:"" help:"Extract keywords from a conversation"`
	Summary    SummaryCmd    `cmd:"" help:"Summarize a conversation"`
	Analyze    AnalyzeCmd    `cmd:"" help:"Run the full analysis of a recording"`
	Models     ModelsCmd     `cmd:"" help:"Manage model files"`
}

func main() {
	if _, err := config.LoadEnvFiles(config.DefaultEnvFiles...); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("speech-cli"),
		kong.Description("Transcribe recordings and extract speech metrics, keywords and summaries."),
		kong.UsageOnError(),
	)

	if err := logging.InitializeWithConfig(logging.LogConfig{Level: cli.LogLevel, Format: "console"}); err != nil {
		kctx.FatalIfErrorf(err)
	}
	defer logging.Close()

	cfg, err := config.Load()
	kctx.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	app := newApp(ctx, cfg, os.Stdout)
	err = kctx.Run(app)

	// FatalIfErrorf exits, so release models and flush logs first
	app.Close()
	stop()
	logging.Sync()
	kctx.FatalIfErrorf(err)
}
