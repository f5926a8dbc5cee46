package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/atotto/clipboard"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/petems/meetrec/internal/app"
	"github.com/petems/meetrec/internal/config"
	"github.com/petems/meetrec/internal/permissions"
	"github.com/petems/meetrec/internal/sidecar"
)

func runDevices(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	use := fs.String("use", "", "device id to record from by default (\"default\" for the system input)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	c, err := setup(cfg, log, true)
	if err != nil {
		return err
	}
	defer c.Close()

	if *use != "" {
		id := *use
		if id == "default" {
			id = ""
		}
		if err := c.app.SetDevice(id); err != nil {
			return err
		}
	}

	devices := c.app.ListDevices()
	if len(devices) == 0 {
		fmt.Println("No capture devices found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, " \tID\tDEFAULT\tLOOPBACK\tNAME")
	for _, d := range devices {
		sel := " "
		if d.ID == cfg.Audio.DeviceID {
			sel = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", sel, d.ID, mark(d.IsDefault), mark(d.IsLoopback), d.Name)
	}
	return w.Flush()
}

func runRecord(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	device := fs.String("device", "", "device id from `meetrec devices` (default: configured or system default)")
	title := fs.String("title", "", "meeting title")
	live := fs.Bool("live", false, "print live transcription while recording")
	transcribe := fs.Bool("transcribe", false, "transcribe the recording after it stops")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsureMicrophone(); err != nil {
		return err
	}

	c, err := setup(cfg, log, true)
	if err != nil {
		return err
	}
	defer c.Close()

	id, lateErrs, err := c.app.StartRecording(*device, *title)
	if err != nil {
		return err
	}
	fmt.Printf("Recording meeting %s, press Ctrl+C to stop\n", id)

	if *live {
		err := c.app.StartLive(func(segments []sidecar.Segment) {
			for _, s := range segments {
				fmt.Printf("[%7.1fs] %s\n", s.Start, s.Text)
			}
		})
		if err != nil {
			log.Error().Err(err).Msg("Live transcription unavailable")
		}
	}

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var captureErr error
	select {
	case <-sigChan:
		log.Info().Msg("Stopping recording...")
	case err, ok := <-lateErrs:
		if ok && err != nil {
			captureErr = err
		}
	}

	ctx, cancel := shutdownContext()
	defer cancel()

	_, path, err := c.app.StopRecording(ctx)
	if err != nil {
		return err
	}
	if captureErr != nil {
		return fmt.Errorf("capture failed, partial recording at %s: %w", path, captureErr)
	}
	fmt.Printf("Saved %s\n", path)

	if !*transcribe {
		return nil
	}

	tctx, tcancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer tcancel()

	result, err := c.app.Transcribe(tctx, id, app.TranscribeOptions{})
	if err != nil {
		return err
	}
	fmt.Println(result.Text)
	return nil
}

func runTranscribe(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	model := fs.String("model", "", "model size (see `meetrec models`)")
	language := fs.String("language", "", "language code, or auto to detect")
	copyText := fs.Bool("copy", false, "copy the transcript to the clipboard")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("transcribe needs exactly one meeting id or audio path")
	}

	opts := app.TranscribeOptions{Model: *model}
	if *model != "" && !sidecar.KnownModel(*model) {
		return fmt.Errorf("%w: %s", app.ErrUnknownModel, *model)
	}
	if *language != "" && *language != "auto" {
		opts.Language = language
	}

	c, err := setup(cfg, log, false)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	result, err := c.app.Transcribe(ctx, fs.Arg(0), opts)
	if err != nil {
		return err
	}
	log.Debug().Dur("took", time.Since(start)).Msg("Transcribed")

	fmt.Println(result.Text)

	if *copyText {
		if err := clipboard.WriteAll(result.Text); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Copied to clipboard")
	}
	return nil
}

func runModels(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	use := fs.String("use", "", "model id to use by default")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	c, err := setup(cfg, log, false)
	if err != nil {
		return err
	}
	defer c.Close()

	if *use != "" {
		if err := c.app.SetModel(*use); err != nil {
			return err
		}
	}

	current := c.app.Model()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, " \tID\tSIZE\tDESCRIPTION")
	for _, m := range sidecar.Models() {
		sel := " "
		if m.ID == current {
			sel = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sel, m.ID, humanize.Bytes(uint64(m.SizeMB)*1_000_000), m.Description)
	}
	return w.Flush()
}

func runMeetings(cfg *config.Config, log zerolog.Logger) error {
	c, err := setup(cfg, log, false)
	if err != nil {
		return err
	}
	defer c.Close()

	meetings, err := c.app.Meetings()
	if err != nil {
		return err
	}
	if len(meetings) == 0 {
		fmt.Println("No meetings recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tDURATION\tSTATUS\tTITLE")
	for _, m := range meetings {
		dur := time.Duration(m.DurationSeconds * float64(time.Second)).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, humanize.Time(m.CreatedAt), dur, m.Status, m.Title)
	}
	return w.Flush()
}

func runShow(cfg *config.Config, log zerolog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("show needs exactly one meeting id")
	}

	c, err := setup(cfg, log, false)
	if err != nil {
		return err
	}
	defer c.Close()

	tr, err := c.app.LatestTranscription(args[0])
	if err != nil {
		return err
	}

	for _, s := range tr.Segments {
		fmt.Printf("[%7.1fs] %s\n", s.Start, s.Text)
	}
	if len(tr.Segments) == 0 {
		fmt.Println(tr.Content)
	}
	return nil
}

func mark(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
