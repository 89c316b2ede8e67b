package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/jessevdk/go-flags"

	"notifybridge/internal/app"
	"notifybridge/internal/config"
	"notifybridge/internal/instance"
)

const (
	exitOK             = 0
	exitFatal          = 1
	exitAlreadyRunning = 3
)

// Opts with all CLI options
type Opts struct {
	Config  string `short:"c" long:"config" env:"NOTIFYBRIDGE_CONFIG" description:"config file path (default: per-user app dir)"`
	Version bool   `short:"V" long:"version" description:"show version info"`

	Run    RunCmd    `command:"run" description:"relay desktop notifications to the overlay (default)"`
	Schema SchemaCmd `command:"schema" description:"print the config JSON schema"`
	Paths  PathsCmd  `command:"paths" description:"print config, backup and lock file locations"`
}

type RunCmd struct {
	WSURL        string  `long:"ws-url" env:"NOTIFYBRIDGE_WS_URL" description:"overlay websocket URL for this run"`
	PollInterval float64 `long:"poll-interval" description:"poll interval in seconds for this run"`
	Source       string  `long:"source" choice:"dbus" choice:"stdin" default:"dbus" description:"notification source"`
	LogLevel     string  `long:"log-level" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level for this run"`

	opts *Opts
	ctx  context.Context
}

func (c *RunCmd) Execute([]string) error {
	path, err := c.opts.configPath()
	if err != nil {
		return err
	}
	return app.Run(c.ctx, app.Options{
		ConfigPath:   path,
		WSURL:        c.WSURL,
		PollInterval: config.Seconds(c.PollInterval),
		LogLevel:     c.LogLevel,
		SourceKind:   c.Source,
	})
}

type SchemaCmd struct {
	out io.Writer
}

func (c *SchemaCmd) Execute([]string) error {
	b, err := config.Schema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}

type PathsCmd struct {
	opts *Opts
	out  io.Writer
}

func (c *PathsCmd) Execute([]string) error {
	path, err := c.opts.configPath()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "config:  %s\n", path)
	fmt.Fprintf(c.out, "backup:  %s\n", config.BackupPath(path))
	fmt.Fprintf(c.out, "corrupt: %s\n", config.CorruptPath(path))
	fmt.Fprintf(c.out, "lock:    %s\n", filepath.Join(filepath.Dir(path), instance.FileName(config.AppKey)))
	return nil
}

func (o *Opts) configPath() (string, error) {
	if o.Config != "" {
		return o.Config, nil
	}
	return config.DefaultPath()
}

var revision = "unknown"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts Opts
	opts.Run.opts, opts.Run.ctx = &opts, ctx
	opts.Schema.out = stdout
	opts.Paths.opts, opts.Paths.out = &opts, stdout

	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.SubcommandsOptional = true

	_, err := parser.ParseArgs(args)
	if err == nil && opts.Version {
		fmt.Fprintf(stdout, "Version: %s\nGolang: %s\n", revision, runtime.Version())
		return exitOK
	}
	if err == nil && parser.Active == nil {
		err = opts.Run.Execute(nil)
	}

	var flagsErr *flags.Error
	if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
		fmt.Fprintln(stdout, flagsErr.Message)
		return exitOK
	}
	code := exitCode(err)
	if code == exitFatal {
		fmt.Fprintln(stderr, "fatal:", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, app.ErrAlreadyRunning):
		return exitAlreadyRunning
	}
	return exitFatal
}
