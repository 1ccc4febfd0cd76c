package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"skyplay/internal/api"
	"skyplay/internal/autostart"
	"skyplay/internal/config"
	"skyplay/internal/melody"
	"skyplay/internal/osutils"
	"skyplay/internal/player"
	"skyplay/internal/tray"
)

func runServe(a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	noTray := fs.Bool("no-tray", false, "Do not show the tray icon")
	fs.Parse(args)

	withTray := a.cfg.Tray.Enabled && !*noTray
	if !a.cfg.API.Enabled && !withTray {
		return errors.New("nothing to serve: api and tray are both disabled")
	}

	sched, dev, err := a.openPlayer()
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if a.cfg.Injector.Kind == config.InjectorUinput && !osutils.IsAdmin() {
		a.log.Warn("CLI: uinput usually needs root or membership of the group owning /dev/uinput")
	}

	errCh := make(chan error, 1)
	if a.cfg.API.Enabled {
		if runtime.GOOS == "windows" && osutils.NeedsFirewallRule(a.cfg.API.Host) {
			go func() {
				if err := osutils.EnsureFirewallRule(a.cfg.API.Port); err != nil {
					a.log.Warnf("CLI: Firewall: %v", err)
				}
			}()
		}
		srv := api.NewServer(a.store, sched, api.Options{
			Token:         a.cfg.API.Token,
			DefaultNoteMs: a.cfg.Playback.DefaultNoteMS,
			TestKeyMs:     a.cfg.Playback.TestKeyMS,
		})
		defer srv.Close()
		go func() {
			errCh <- srv.ListenAndServe(ctx, a.apiAddr())
		}()
	}

	a.log.Infof("CLI: skyplay %s serving (injector %s). Press Ctrl+C to stop.", version, a.cfg.Injector.Kind)

	if withTray {
		// systray owns the calling goroutine until Quit
		t := newPlayerTray(a, sched)
		go watchServer(ctx, errCh, a.log, t.Stop)
		t.OnExit(cancel)
		t.Run()
	}

	// a server error wins over the shutdown it triggered
	var serveErr error
	select {
	case serveErr = <-errCh:
	default:
		select {
		case <-ctx.Done():
		case serveErr = <-errCh:
		}
	}

	sched.Stop()
	if serveErr != nil {
		return serveErr
	}
	a.log.Info("CLI: Shutting down...")
	return nil
}

// watchServer calls stop when ctx ends or the API server fails. A server
// error is logged and put back on errCh for runServe to return.
func watchServer(ctx context.Context, errCh chan error, log *logrus.Entry, stop func()) {
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Errorf("CLI: API server stopped: %v", err)
		}
		errCh <- err
	}
	stop()
}

// newPlayerTray builds the tray menu and keeps it in sync with the scheduler
func newPlayerTray(a *app, sched *player.Scheduler) *tray.Tray {
	t := tray.New("skyplay", "skyplay: idle")

	stateItem := t.AddInfoItem("State: idle")
	calItem := t.AddInfoItem(fmt.Sprintf("Calibration: %d%%", a.store.Progress()))
	t.AddSeparator()

	var playItem, stopItem int
	playItem = t.AddMenuItem("Play last song", func() {
		// another process may have played something since we started
		if err := a.cfgMgr.Load(); err != nil {
			a.log.Warnf("CLI: Failed to reload config: %v", err)
		}
		path := a.cfgMgr.Get().Tray.LastSong
		if path == "" {
			return
		}
		song, err := melody.LoadFile(path, a.cfg.Playback.DefaultNoteMS)
		if err != nil {
			a.log.Errorf("CLI: %v", err)
			return
		}
		if _, err := sched.Start(song.Notes, nil); err != nil {
			a.log.Errorf("CLI: Failed to play %q: %v", song.Title, err)
		}
	})
	stopItem = t.AddMenuItem("Stop", sched.Stop)
	t.SetItemEnabled(stopItem, false)
	t.SetItemEnabled(playItem, a.cfg.Tray.LastSong != "")

	a.cfgMgr.RegisterChangeCallback(func(c config.Config) {
		t.SetItemEnabled(playItem, c.Tray.LastSong != "")
	})

	t.AddSeparator()
	t.AddMenuItem("Quit", t.Stop)

	sched.Subscribe(func(ev player.Event) {
		switch ev.Kind {
		case player.EventStarted, player.EventState, player.EventFinished:
		case player.EventProgress:
			t.SetTooltip(fmt.Sprintf("skyplay: playing %d%%", ev.Percent))
			return
		default:
			return
		}
		st := sched.State()
		t.SetItemTitle(stateItem, "State: "+st.String())
		t.SetItemTitle(calItem, fmt.Sprintf("Calibration: %d%%", a.store.Progress()))
		t.SetTooltip("skyplay: " + st.String())
		t.SetItemEnabled(stopItem, st == player.Running)
	})

	return t
}

func runAutostart(a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: autostart enable|disable|status")
	}
	switch args[0] {
	case "enable":
		cmd := []string{"serve"}
		if *configPath != "" {
			path := config.ExpandPath(*configPath)
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			cmd = []string{"--config", path, "serve"}
		}
		e, err := autostart.NewEntry(cmd...)
		if err != nil {
			return err
		}
		if err := autostart.Enable(e); err != nil {
			return err
		}
		fmt.Println("skyplay serve will start at login")
	case "disable":
		if err := autostart.Disable(); err != nil {
			return err
		}
		fmt.Println("Autostart disabled")
	case "status":
		fmt.Printf("Autostart enabled: %v\n", autostart.IsEnabled())
	default:
		return errors.Errorf("unknown autostart action %q", args[0])
	}
	return nil
}
