package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/eventworker/internal/config"
)

// Global carries state shared by subcommands.
type Global struct {
	Logger *slog.Logger
	// Level follows logging.level from the config file unless --verbose pinned it.
	Level   *slog.LevelVar
	Verbose bool
}

// CLI definition & global flags - used by commands that need access to root config.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"eventworker.yaml" env:"EVENTWORKER_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Worker     WorkerCmd     `cmd:"" help:"Run the queue consumption loop"`
	API        APICmd        `cmd:"" name:"api" help:"Run the HTTP ingestion API"`
	Submit     SubmitCmd     `cmd:"" help:"Submit one event to the queue"`
	Status     StatusCmd     `cmd:"" help:"Show the status of an event"`
	DeadLetter DeadLetterCmd `cmd:"" name:"deadletter" help:"Dead-letter maintenance"`
	Init       InitCmd       `cmd:"" help:"Initialize a new configuration file"`

	global *Global `kong:"-"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := new(slog.LevelVar)
	if c.Verbose {
		level.Set(slog.LevelDebug)
	}
	logger := config.NewLogger(os.Stderr, string(config.LogFormatText), level)
	slog.SetDefault(logger)
	c.global = &Global{Logger: logger, Level: level, Verbose: c.Verbose}
	return nil
}

// Globals returns the state prepared by AfterApply.
func (c *CLI) Globals() *Global {
	if c.global == nil {
		_ = c.AfterApply()
	}
	return c.global
}

// loadConfig reads the config file and applies its logging section.
func (g *Global) loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	g.applyLogging(cfg.Logging)
	return cfg, nil
}

func (g *Global) applyLogging(lc config.LoggingConfig) {
	if !g.Verbose {
		g.Level.Set(lc.SlogLevel())
	}
	g.Logger = config.NewLogger(os.Stderr, lc.Format, g.Level)
	slog.SetDefault(g.Logger)
}
