package input

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"skyplay/internal/config"
)

// Open creates the injector selected by cfg.Kind
func Open(cfg config.InjectorConfig) (Device, error) {
	log := logrus.WithField("component", "input")

	switch cfg.Kind {
	case config.InjectorADB:
		log.Infof("Input: Using adb (%s) device %q", cfg.ADB.Binary, cfg.ADB.Serial)
		return NewADBInjector(cfg.ADB.Binary, cfg.ADB.Serial), nil
	case config.InjectorUinput:
		u, err := OpenUinput(cfg.Uinput.Width, cfg.Uinput.Height)
		if err != nil {
			return nil, err
		}
		return u, nil
	case config.InjectorSerial:
		s, err := OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.InjectorDryRun:
		log.Info("Input: Dry run, touches are logged only")
		return NewDryRunInjector(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%q", cfg.Kind)
	}
}
