//go:build !windows

package autostart

func enableRegistry(e Entry) error { return ErrUnsupportedPlatform }

func disableRegistry() error { return ErrUnsupportedPlatform }

func registryEnabled() bool { return false }
