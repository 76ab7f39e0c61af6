// Command wavecast is a small player built on the engine: it plays the given
// files or URLs in order, prints lifecycle events, and records finished
// playbacks in the history database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/adrg/xdg"

	"github.com/lmenard/wavecast/internal/config"
	"github.com/lmenard/wavecast/internal/history"
	"github.com/lmenard/wavecast/internal/output"
	"github.com/lmenard/wavecast/internal/player"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <file-or-url> [more...]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	var store *history.Store
	if path, err := xdg.DataFile("wavecast/history.db"); err == nil {
		if store, err = history.Open(path); err != nil {
			fmt.Fprintf(os.Stderr, "open history: %v\n", err)
		}
	}
	if store != nil {
		defer store.Close()
	}

	eng := player.New(*cfg, output.NewSpeakerSink())
	defer eng.Dispose()

	done := make(chan struct{})
	eng.SetObserver(&cliObserver{store: store, done: done})

	eng.Play(os.Args[1], nil)
	for _, locator := range os.Args[2:] {
		eng.Queue(locator, nil)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-done:
	case <-sig:
		fmt.Println("\ninterrupted")
		eng.Stop()
	}
}

// cliObserver prints engine events and records finished playbacks.
type cliObserver struct {
	store   *history.Store
	done    chan struct{}
	started time.Time
}

func (o *cliObserver) DidStartPlaying(id player.EntryID) {
	o.started = time.Now()
	fmt.Printf("playing  %s\n", locatorOf(id))
}

func (o *cliObserver) DidFinishBuffering(id player.EntryID) {
	fmt.Printf("buffered %s\n", locatorOf(id))
}

func (o *cliObserver) StateChanged(current, previous player.InternalState) {
	switch current {
	case player.StateRebuffering:
		fmt.Println("rebuffering...")
	case player.StateStopped, player.StateErrored:
		select {
		case <-o.done:
		default:
			close(o.done)
		}
	}
}

func (o *cliObserver) DidFinishPlaying(id player.EntryID, reason player.StopReason, progress, duration float64) {
	fmt.Printf("finished %s (%s, %.1fs of %.1fs)\n", locatorOf(id), reason, progress, duration)
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := o.store.Record(ctx, history.Entry{
		Locator:         locatorOf(id),
		StartedAt:       o.started,
		PlayedSeconds:   progress,
		DurationSeconds: duration,
		Reason:          reason.String(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "record history: %v\n", err)
	}
}

func (o *cliObserver) DidCancel(ids []player.EntryID) {
	for _, id := range ids {
		fmt.Printf("skipped  %s\n", locatorOf(id))
	}
}

func (o *cliObserver) UnexpectedError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func (o *cliObserver) DidReadMetadata(tags map[string]string) {
	if title := tags["title"]; title != "" {
		artist := tags["artist"]
		if artist != "" {
			fmt.Printf("now: %s - %s\n", artist, title)
			return
		}
		fmt.Printf("now: %s\n", title)
	}
}

// locatorOf strips the sequence suffix from an entry id.
func locatorOf(id player.EntryID) string {
	s := string(id)
	if i := strings.LastIndex(s, "#"); i >= 0 {
		return s[:i]
	}
	return s
}
