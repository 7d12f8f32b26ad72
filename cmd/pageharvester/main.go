package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jessevdk/go-flags"

	"PageHarvester/internal/app"
	"PageHarvester/internal/config"
	"PageHarvester/internal/logging"
)

// Options are the flags shared by every command.
type Options struct {
	Config   string `short:"c" long:"config" env:"PAGEHARVESTER_CONFIG" description:"Path to the YAML config file"`
	LogLevel string `long:"log-level" description:"Log level (debug, info, warn, error)"`
	Addr     string `long:"addr" description:"Dashboard listen address"`
}

type serveCommand struct{ opts *Options }

type runCommand struct {
	opts *Options
	Args struct {
		JobID string `positional-arg-name:"job-id" required:"true"`
	} `positional-args:"yes"`
}

type importCommand struct {
	opts *Options
	Args struct {
		File string `positional-arg-name:"file" required:"true"`
	} `positional-args:"yes"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	mustAdd(parser, "serve", "Run the scheduler and the dashboard API", &serveCommand{opts: &opts})
	mustAdd(parser, "run", "Run one job now and print its log entry", &runCommand{opts: &opts})
	mustAdd(parser, "import", "Create or update jobs from a YAML file", &importCommand{opts: &opts})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}

func mustAdd(p *flags.Parser, name, short string, cmd any) {
	if _, err := p.AddCommand(name, short, "", cmd); err != nil {
		panic(err)
	}
}

func (o *Options) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return cfg, nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.Addr != "" {
		cfg.Server.Addr = o.Addr
	}
	return cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (c *serveCommand) Execute([]string) error {
	cfg, logger, err := c.opts.load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{Browser: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

func (c *runCommand) Execute([]string) error {
	id, err := strconv.ParseInt(c.Args.JobID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid job id %q", c.Args.JobID)
	}
	cfg, logger, err := c.opts.load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{Browser: true})
	if err != nil {
		return err
	}
	defer a.Close()

	entry, runErr := a.RunOnce(ctx, id)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entry); err != nil {
		return err
	}
	return runErr
}

func (c *importCommand) Execute([]string) error {
	cfg, logger, err := c.opts.load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Import(ctx, c.Args.File)
	if err != nil {
		return err
	}
	logger.Info("import finished", "created", len(res.Created), "updated", len(res.Updated))
	return nil
}
