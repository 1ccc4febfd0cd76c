//go:build windows

package autostart

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows/registry"
)

const runKey = `Software\Microsoft\Windows\CurrentVersion\Run`

func enableRegistry(e Entry) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, runKey, registry.SET_VALUE)
	if err != nil {
		return errors.Wrap(err, "open Run key")
	}
	defer k.Close()
	return errors.Wrap(k.SetStringValue(e.Label, commandLine(e)), "set Run value")
}

func disableRegistry() error {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKey, registry.SET_VALUE)
	if err != nil {
		return errors.Wrap(err, "open Run key")
	}
	defer k.Close()
	if err := k.DeleteValue(label); err != nil && err != registry.ErrNotExist {
		return errors.Wrap(err, "delete Run value")
	}
	return nil
}

func registryEnabled() bool {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKey, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer k.Close()
	_, _, err = k.GetStringValue(label)
	return err == nil
}
