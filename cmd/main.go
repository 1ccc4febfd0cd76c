// skyplay - plays melodies on an on-screen instrument by injecting touches
// at calibrated key positions.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"skyplay/internal/calibration"
	"skyplay/internal/config"
	"skyplay/internal/input"
	"skyplay/internal/logging"
	"skyplay/internal/player"
)

var version = "0.3.0"

var (
	configPath   = flag.String("config", "", "Path to config file (default "+config.DefaultPath()+")")
	injectorKind = flag.String("injector", "", "Touch injector: adb, uinput, serial or dry-run")
	dryRun       = flag.Bool("dry-run", false, "Log touches instead of injecting them")
	adbSerial    = flag.String("adb-serial", "", "adb device serial")
	serialPort   = flag.String("serial-port", "", "Serial port of the touch bridge")
	serialBaud   = flag.Int("serial-baud", 0, "Serial baud rate")
	dataDir      = flag.String("data-dir", "", "Directory holding calibration data")
	apiHost      = flag.String("api-host", "", "API listen/connect host")
	apiPort      = flag.Int("api-port", 0, "API listen/connect port")
	apiToken     = flag.String("token", "", "API bearer token")
	logLevel     = flag.String("log-level", "", "Log level: error, warn, info, debug")
)

type command struct {
	name  string
	usage string
	run   func(a *app, args []string) error
}

var commands = []command{
	{"serve", "Run the remote control API and tray (default)", runServe},
	{"play", "Play a melody file or inline notes", runPlay},
	{"stop", "Stop playback on a running server", runStop},
	{"status", "Show playback status of a running server", runStatus},
	{"watch", "Follow a running server's playback", runWatch},
	{"calibrate", "Manage key calibration (set, delete, list, clear, export, import, status, preview, test)", runCalibrate},
	{"autostart", "Start serve at login (enable, disable, status)", runAutostart},
	{"version", "Show version", nil},
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: skyplay [flags] <command> [args]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-10s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	name := "serve"
	args := flag.Args()
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}

	if name == "version" {
		fmt.Printf("skyplay version %s\n", version)
		return
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	a, err := newApp()
	if err != nil {
		logrus.Fatalf("Failed to initialize: %v", err)
	}
	if err := cmd.run(a, args); err != nil {
		logrus.Fatalf("%s: %v", name, err)
	}
}

// overrides collects the global flags that were explicitly set
func overrides() config.FlagOverrides {
	var o config.FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "injector":
			o.InjectorKind = injectorKind
		case "adb-serial":
			o.ADBSerial = adbSerial
		case "serial-port":
			o.SerialPort = serialPort
		case "serial-baud":
			o.SerialBaud = serialBaud
		case "data-dir":
			o.DataDir = dataDir
		case "api-host":
			o.APIHost = apiHost
		case "api-port":
			o.APIPort = apiPort
		case "token":
			o.APIToken = apiToken
		case "log-level":
			o.LogLevel = logLevel
		}
	})
	if *dryRun {
		kind := config.InjectorDryRun
		o.InjectorKind = &kind
	}
	return o
}

// app holds what every command needs: the effective config and the
// calibration store
type app struct {
	cfgMgr *config.Manager
	cfg    config.Config
	store  *calibration.Store
	log    *logrus.Entry
}

func newApp() (*app, error) {
	cfgMgr := config.NewManager(*configPath)
	if err := cfgMgr.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	cfg := cfgMgr.Get()
	overrides().Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if err := logging.Setup(cfg.Logging.Level, os.Stderr); err != nil {
		return nil, err
	}

	backend, err := calibration.NewFileBackend(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	store, err := calibration.NewStore(backend)
	if err != nil {
		return nil, errors.Wrap(err, "load calibration")
	}

	return &app{
		cfgMgr: cfgMgr,
		cfg:    cfg,
		store:  store,
		log:    logrus.WithField("component", "cli"),
	}, nil
}

// openPlayer opens the configured injector and a scheduler over the store.
// The caller closes the device.
func (a *app) openPlayer() (*player.Scheduler, input.Device, error) {
	dev, err := input.Open(a.cfg.Injector)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open injector")
	}
	if !dev.HasPermission() {
		a.log.Warnf("CLI: Injector %s reports no permission; playback will be refused", a.cfg.Injector.Kind)
	}
	return player.New(a.store, dev), dev, nil
}

func (a *app) apiAddr() string {
	return fmt.Sprintf("%s:%d", a.cfg.API.Host, a.cfg.API.Port)
}

// rememberSong records path as the tray's "last song"
func (a *app) rememberSong(path string) {
	if path == "" || path == "-" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	a.cfgMgr.Update(func(c *config.Config) { c.Tray.LastSong = path })
	if err := a.cfgMgr.Save(); err != nil {
		a.log.Warnf("CLI: Failed to save last song: %v", err)
	}
}
