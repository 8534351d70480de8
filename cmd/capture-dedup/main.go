// Command capture-dedup serves and administers the payload dedup index of an
// archival capture pipeline.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	LogLevel  string           `help:"Log level (${enum})." enum:"debug,info,warn,error" default:"info" env:"CAPTURE_DEDUP_LOG_LEVEL"`
	LogFormat string           `help:"Log format (${enum})." enum:"console,text,json" default:"console" env:"CAPTURE_DEDUP_LOG_FORMAT"`
	Version   kong.VersionFlag `help:"Print version and exit."`
}

// CLI is the command line of capture-dedup.
type CLI struct {
	Globals

	Serve     ServeCmd     `cmd:"" help:"Serve the dedup index over HTTP."`
	Provision ProvisionCmd `cmd:"" help:"Create the backend's database and table if absent."`
	Lookup    LookupCmd    `cmd:"" help:"Look up a prior capture by digest."`
	Digest    DigestCmd    `cmd:"" help:"Print the payload digest of a file."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("capture-dedup"),
		kong.Description("Payload deduplication index for archival capture pipelines."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	ctx.FatalIfErrorf(err)
	slog.SetDefault(logger)

	ctx.FatalIfErrorf(ctx.Run(&cli.Globals, logger))
}

func newLogger(levelName, format string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", levelName)
	}

	var handler slog.Handler
	switch format {
	case "console":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	case "text":
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}
