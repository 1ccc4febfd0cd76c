//go:build !windows

package osutils

import "os"

// IsAdmin reports whether the process runs as root
func IsAdmin() bool {
	return os.Geteuid() == 0
}

// EnsureFirewallRule is a no-op; host firewalls are left to the administrator
func EnsureFirewallRule(port int) error {
	return nil
}
