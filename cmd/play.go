package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"skyplay/internal/melody"
	"skyplay/internal/network"
	"skyplay/internal/player"
	"skyplay/internal/protocol"
	"skyplay/internal/tui"
)

func runPlay(a *app, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	inline := fs.String("notes", "", `Inline melody, e.g. "C4 D4:200 E4"`)
	noteMs := fs.Int("ms", a.cfg.Playback.DefaultNoteMS, "Duration of notes without their own")
	track := fs.Int("track", -1, "MIDI track to play (-1 for all)")
	transpose := fs.Int("transpose", 0, "Semitones to shift MIDI notes")
	remote := fs.Bool("remote", false, "Send the melody to a running server instead of playing locally")
	view := fs.Bool("tui", false, "Show a live terminal view")
	fs.Parse(args)

	var path string
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	song, err := loadSong(path, *inline, *noteMs, melody.MIDIOptions{Track: *track, Transpose: *transpose, DefaultMs: *noteMs})
	if err != nil {
		return err
	}

	if *remote {
		body, err := json.Marshal(map[string]interface{}{"notes": song.Notes})
		if err != nil {
			return errors.Wrap(err, "encode notes")
		}
		n, err := network.NewAPIClient(a.apiAddr(), a.cfg.API.Token).Play(context.Background(), "application/json", body)
		if err != nil {
			return err
		}
		fmt.Printf("Started %q on %s (%d notes)\n", song.Title, a.apiAddr(), n)
		a.rememberSong(path)
		return nil
	}

	sched, dev, err := a.openPlayer()
	if err != nil {
		return err
	}
	defer dev.Close()

	if *view {
		return playWithView(a, sched, song, path)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := sched.Start(song.Notes, func(pct int) {
		a.log.Debugf("CLI: %d%%", pct)
	})
	if err != nil {
		return err
	}
	a.rememberSong(path)
	a.log.Infof("CLI: Playing %q (%d notes, %.1fs)", song.Title, len(song.Notes), float64(song.DurationMs())/1000)

	select {
	case <-sess.Done():
	case <-ctx.Done():
		sched.Stop()
		<-sess.Done()
	}
	return report(sess.Result())
}

func playWithView(a *app, sched *player.Scheduler, song melody.Song, path string) error {
	updates, unsubscribe := tui.FromScheduler(sched)
	defer unsubscribe()

	sess, err := sched.Start(song.Notes, nil)
	if err != nil {
		return err
	}
	a.rememberSong(path)

	m := tui.NewModel(song.Title, updates, sched.Stop)
	m.ExitOnFinish = true
	if _, err := tui.Run(m); err != nil {
		sched.Stop()
		<-sess.Done()
		return errors.Wrap(err, "terminal view")
	}

	sched.Stop()
	<-sess.Done()
	return report(sess.Result())
}

// loadSong reads from inline notes, stdin ("-") or a file
func loadSong(path, inline string, noteMs int, midiOpts melody.MIDIOptions) (melody.Song, error) {
	switch {
	case inline != "":
		notes, err := melody.ParseTextString(inline, noteMs)
		return melody.Song{Title: "inline", Notes: notes}, err

	case path == "-":
		notes, err := melody.ParseText(os.Stdin, noteMs)
		return melody.Song{Title: "stdin", Notes: notes}, err

	case path == "":
		return melody.Song{}, errors.New("usage: play [flags] <file|-> or play --notes \"C4 D4\"")
	}

	ext := strings.ToLower(filepath.Ext(path))
	if (ext == ".mid" || ext == ".midi") && (midiOpts.Track >= 0 || midiOpts.Transpose != 0) {
		f, err := os.Open(path)
		if err != nil {
			return melody.Song{}, errors.Wrap(err, "open song")
		}
		defer f.Close()
		song, err := melody.LoadMIDI(f, midiOpts)
		if err != nil {
			return melody.Song{}, errors.Wrapf(err, "load %s", path)
		}
		if song.Title == "" {
			song.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		return song, nil
	}
	return melody.LoadFile(path, noteMs)
}

func report(res player.Result) error {
	fmt.Printf("%s: %d played, %d skipped (%d%%)\n", res.Outcome, res.Played, res.Skipped, res.Progress)
	if res.Outcome == player.Failed {
		return res.Err
	}
	return nil
}

func runStop(a *app, args []string) error {
	st, err := network.NewAPIClient(a.apiAddr(), a.cfg.API.Token).Stop(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Playback %s\n", st.State)
	return nil
}

func runStatus(a *app, args []string) error {
	st, err := network.NewAPIClient(a.apiAddr(), a.cfg.API.Token).Status(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("State:       %s\n", st.State)
	fmt.Printf("Position:    %d/%d (%d%%)\n", st.Cursor, st.Total, st.Progress)
	if len(st.Pressed) > 0 {
		fmt.Printf("Pressed:     %v\n", st.Pressed)
	}
	fmt.Printf("Calibration: %d%%\n", st.Calibration)
	return nil
}

func runWatch(a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	plain := fs.Bool("plain", false, "Print events as log lines instead of the terminal view")
	fs.Parse(args)

	c := network.NewWSClient(a.apiAddr(), a.cfg.API.Token)
	defer c.Close()

	if *plain {
		return watchPlain(c)
	}

	updates := tui.FromClient(c)
	c.Start()
	_, err := tui.Run(tui.NewModel("skyplay @ "+a.apiAddr(), updates, c.SendStop))
	return err
}

func watchPlain(c *network.WSClient) error {
	out := os.Stdout
	c.OnProgress = func(pct int) { fmt.Fprintf(out, "progress %d%%\n", pct) }
	c.OnFinished = func(p protocol.FinishedPayload) {
		fmt.Fprintf(out, "finished %s: %d played, %d skipped %s\n", p.Outcome, p.Played, p.Skipped, p.Error)
	}
	c.OnTouch = func(kind protocol.MessageType, p protocol.TouchPayload) {
		fmt.Fprintf(out, "%-8s %-4s (%d,%d)\n", kind, p.Name, p.X, p.Y)
	}
	c.OnState = func(p protocol.StatePayload) {
		fmt.Fprintf(out, "state %s %d/%d\n", p.State, p.Cursor, p.Total)
	}
	c.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	return nil
}
