package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"skyplay/internal/calibration"
	"skyplay/internal/melody"
	"skyplay/internal/notes"
	"skyplay/internal/preview"
)

const calibrateUsage = `usage: calibrate <subcommand>
  set <key> <x> <y> [--width W --height H]
  delete <key>
  list
  clear
  export [file]
  import <file|->
  status
  preview [--bg screenshot.png] [--width W --height H] <out.png>
  test <key> [--ms N]`

func runCalibrate(a *app, args []string) error {
	if len(args) == 0 {
		return errors.New(calibrateUsage)
	}
	sub, args := args[0], args[1:]

	switch sub {
	case "set":
		return calibrateSet(a, args)
	case "delete", "rm":
		return calibrateDelete(a, args)
	case "list", "ls":
		return calibrateList(a, os.Stdout)
	case "clear":
		if err := a.store.Clear(); err != nil {
			return err
		}
		fmt.Println("Calibration cleared")
		return nil
	case "export":
		return calibrateExport(a, args)
	case "import":
		return calibrateImport(a, args)
	case "status":
		return calibrateStatus(a, os.Stdout)
	case "preview":
		return calibratePreview(a, args)
	case "test":
		return calibrateTest(a, args)
	}
	return errors.Errorf("unknown subcommand %q\n%s", sub, calibrateUsage)
}

func calibrateSet(a *app, args []string) error {
	fs := flag.NewFlagSet("calibrate set", flag.ExitOnError)
	width := fs.Int("width", calibration.DefaultWidth, "Key width in pixels")
	height := fs.Int("height", calibration.DefaultHeight, "Key height in pixels")
	fs.Parse(args)

	if fs.NArg() != 3 {
		return errors.New("usage: calibrate set [--width W --height H] <key> <x> <y>")
	}
	note, err := melody.ResolveNote(fs.Arg(0))
	if err != nil {
		return err
	}
	x, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return errors.Wrap(err, "x")
	}
	y, err := strconv.Atoi(fs.Arg(2))
	if err != nil {
		return errors.Wrap(err, "y")
	}

	if err := a.store.Set(note, x, y, calibration.WithSize(*width, *height)); err != nil {
		return err
	}
	p, _ := a.store.Get(note)
	cx, cy := p.Center()
	fmt.Printf("%s: region (%d,%d) %dx%d, taps at (%d,%d)\n", notes.NoteToName(note), p.X, p.Y, p.Width, p.Height, cx, cy)
	return nil
}

func calibrateDelete(a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: calibrate delete <key>")
	}
	note, err := melody.ResolveNote(args[0])
	if err != nil {
		return err
	}
	removed, err := a.store.Delete(note)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("%s was not calibrated\n", notes.NoteToName(note))
		return nil
	}
	fmt.Printf("%s removed\n", notes.NoteToName(note))
	return nil
}

func calibrateList(a *app, w io.Writer) error {
	all := a.store.All()
	if len(all) == 0 {
		fmt.Fprintln(w, "No keys calibrated")
		return nil
	}
	fmt.Fprintf(w, "%-5s %-4s %6s %6s %6s %6s\n", "KEY", "NOTE", "X", "Y", "W", "H")
	for _, p := range all {
		fmt.Fprintf(w, "%-5s %-4d %6d %6d %6d %6d\n", notes.NoteToName(p.Note), p.Note, p.X, p.Y, p.Width, p.Height)
	}
	return nil
}

func calibrateStatus(a *app, w io.Writer) error {
	status := a.store.Status()
	for _, name := range notes.CanonicalOctave() {
		mark := "✗"
		if status[name] {
			mark = "✓"
		}
		fmt.Fprintf(w, "  %s %s\n", mark, name)
	}
	fmt.Fprintf(w, "Calibration: %d%% (%d keys total)\n", a.store.Progress(), a.store.Len())
	return nil
}

func calibrateExport(a *app, args []string) error {
	data, err := a.store.ExportAll()
	if err != nil {
		return err
	}
	if len(args) == 0 || args[0] == "-" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(args[0], data, 0644); err != nil {
		return errors.Wrap(err, "write export")
	}
	fmt.Printf("Exported %d keys to %s\n", a.store.Len(), args[0])
	return nil
}

func calibrateImport(a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: calibrate import <file|->")
	}
	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return errors.Wrap(err, "read import")
	}
	if err := a.store.ImportAll(data); err != nil {
		return err
	}
	fmt.Printf("Imported %d keys\n", a.store.Len())
	return nil
}

func calibratePreview(a *app, args []string) error {
	fs := flag.NewFlagSet("calibrate preview", flag.ExitOnError)
	bg := fs.String("bg", "", "Screenshot to draw the regions over")
	width := fs.Int("width", 0, "Canvas width (default: screenshot or fitted)")
	height := fs.Int("height", 0, "Canvas height")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: calibrate preview [--bg screenshot.png] <out.png>")
	}

	opts := preview.Options{Width: *width, Height: *height}
	if *bg != "" {
		img, err := preview.LoadBackground(*bg)
		if err != nil {
			return err
		}
		opts.Background = img
	}

	f, err := os.Create(fs.Arg(0))
	if err != nil {
		return errors.Wrap(err, "create preview")
	}
	if err := preview.WritePNG(f, a.store.All(), opts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "write preview")
	}
	fmt.Printf("Wrote %s (%d keys)\n", fs.Arg(0), a.store.Len())
	return nil
}

func calibrateTest(a *app, args []string) error {
	fs := flag.NewFlagSet("calibrate test", flag.ExitOnError)
	ms := fs.Int("ms", a.cfg.Playback.TestKeyMS, "How long to hold the key")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: calibrate test [--ms N] <key>")
	}
	note, err := melody.ResolveNote(fs.Arg(0))
	if err != nil {
		return err
	}

	sched, dev, err := a.openPlayer()
	if err != nil {
		return err
	}
	defer dev.Close()

	hold := time.Duration(*ms) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), hold+10*time.Second)
	defer cancel()
	if err := sched.TestKey(ctx, note, hold); err != nil {
		return err
	}
	fmt.Printf("Tapped %s\n", notes.NoteToName(note))
	return nil
}
