package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/ocepa/internal/app"
	"github.com/MrWong99/ocepa/internal/config"
	"github.com/MrWong99/ocepa/pkg/capture/wavfile"
)

// transcribe creates a lecture and captures it from a WAV file.
func transcribe(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	title := fs.String("title", "", "lecture title (default: the file name)")
	noPace := fs.Bool("no-pace", false, "send audio as fast as possible instead of in real time")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ocepa transcribe [-title T] [-no-pace] lecture.wav")
		return 2
	}
	path := fs.Arg(0)
	if *title == "" {
		*title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Shutdown(context.WithoutCancel(ctx))

	lec, err := application.Store().Create(ctx, *title, "")
	if err != nil {
		slog.Error("create lecture", "err", err)
		return 1
	}

	var opts []wavfile.Option
	if *noPace {
		opts = append(opts, wavfile.WithoutPacing())
	}
	out := &eventPrinter{w: os.Stdout}
	ls, err := application.Sessions().Start(ctx, lec.ID, wavfile.New(path, opts...), out.print)
	if err != nil {
		slog.Error("start capture", "path", path, "err", err)
		return 1
	}

	select {
	case <-ls.Done():
	case <-ctx.Done():
		slog.Info("interrupted, saving lecture")
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := ls.Stop(sctx); err != nil {
		slog.Error("save lecture", "lecture_id", lec.ID, "err", err)
		return 1
	}

	saved, err := application.Store().Get(sctx, lec.ID)
	if err != nil {
		slog.Error("reload lecture", "err", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "\nlecture %s: %d transcript lines, %d notes\n", saved.ID, len(saved.Transcript), len(saved.Notes))
	if saved.Summary != nil {
		fmt.Fprintf(os.Stdout, "summary: %s\n", *saved.Summary)
	}
	return 0
}

// eventPrinter writes live events as plain text lines.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) print(ev app.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Type {
	case app.EventTranscript:
		fmt.Fprintln(p.w, ev.Text)
	case app.EventNote:
		fmt.Fprintf(p.w, "  [%s] %s\n", ev.Category, ev.Text)
	case app.EventError:
		fmt.Fprintf(p.w, "  ! %s\n", ev.Message)
	}
}
