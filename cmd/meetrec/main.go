package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/meetrec/internal/app"
	"github.com/petems/meetrec/internal/audio"
	"github.com/petems/meetrec/internal/config"
	"github.com/petems/meetrec/internal/logging"
	"github.com/petems/meetrec/internal/sidecar"
	"github.com/petems/meetrec/internal/store"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

const usage = `Usage: meetrec <command> [flags]

Commands:
  devices [-use id]            list or select the capture device
  record [flags]               record a meeting until interrupted
  transcribe [flags] <ref>     transcribe a meeting id or audio file
  models [-use id]             list or select the transcription model
  meetings                     list recorded meetings
  show <meeting-id>            print the latest transcript of a meeting
  version                      print version information
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "devices":
		err = runDevices(cfg, log, args)
	case "record":
		err = runRecord(cfg, log, args)
	case "transcribe":
		err = runTranscribe(cfg, log, args)
	case "models":
		err = runModels(cfg, log, args)
	case "meetings":
		err = runMeetings(cfg, log)
	case "show":
		err = runShow(cfg, log, args)
	case "version":
		fmt.Printf("meetrec %s (%s)\n", Version, Commit)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("Command failed")
	}
}

// components holds what a command opened so it can be released.
type components struct {
	app   *app.App
	host  audio.Host
	store *store.Store
}

func (c *components) Close() {
	if c.store != nil {
		c.store.Close()
	}
	if c.host != nil {
		c.host.Close()
	}
}

// setup wires the application. The audio host is only initialized for
// commands that touch capture devices.
func setup(cfg *config.Config, log zerolog.Logger, withAudio bool) (*components, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	c := &components{store: st}

	manager := sidecar.NewManager(sidecar.Config{
		Command:   cfg.Sidecar.Python,
		Args:      []string{cfg.Sidecar.Script},
		StopGrace: cfg.Sidecar.StopGrace.Std(),
	}, log)

	appCfg := app.Config{
		Transcriber: manager,
		Store:       st,
		Config:      cfg,
		Logger:      log,
	}

	if withAudio {
		host, err := audio.NewHost(cfg.Audio)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("initialize audio: %w", err)
		}
		c.host = host
		appCfg.Host = host
		appCfg.Recorder = audio.NewRecorder(host, log, cfg.Audio.StopTimeout.Std())
	}

	c.app = app.New(appCfg)
	return c, nil
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(os.Stderr)
	return fs.Parse(args)
}
