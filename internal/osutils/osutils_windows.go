//go:build windows

package osutils

import (
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

// IsAdmin reports whether the process token is in the Administrators group
func IsAdmin() bool {
	var token windows.Token
	h, _ := windows.GetCurrentProcess()
	if err := windows.OpenProcessToken(h, windows.TOKEN_QUERY, &token); err != nil {
		return false
	}
	defer token.Close()

	var sid *windows.SID
	err := windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&sid,
	)
	if err != nil {
		return false
	}
	defer windows.FreeSid(sid)

	member, err := token.IsMember(sid)
	return err == nil && member
}

// EnsureFirewallRule adds an inbound allow rule for the API port unless one
// exists. Without admin rights netsh is launched through a UAC prompt.
func EnsureFirewallRule(port int) error {
	log := logrus.WithField("component", "osutils")
	name := FirewallRuleName(port)

	out, err := exec.Command("netsh", "advfirewall", "firewall", "show", "rule", "name="+name).CombinedOutput()
	if err == nil && strings.Contains(string(out), name) {
		log.Debugf("Firewall: Rule %q present", name)
		return nil
	}

	args := addRuleArgs(port)
	if IsAdmin() {
		if out, err := exec.Command("netsh", args...).CombinedOutput(); err != nil {
			return errors.Wrapf(err, "netsh: %s", strings.TrimSpace(string(out)))
		}
		log.Infof("Firewall: Allowed inbound TCP %d", port)
		return nil
	}

	verb, _ := windows.UTF16PtrFromString("runas")
	exe, _ := windows.UTF16PtrFromString("netsh.exe")
	params, _ := windows.UTF16PtrFromString(strings.Join(quoteAll(args), " "))
	if err := windows.ShellExecute(0, verb, exe, params, nil, windows.SW_HIDE); err != nil {
		return errors.Wrap(err, "request elevation for netsh")
	}
	log.Infof("Firewall: Requested elevation to allow inbound TCP %d", port)
	return nil
}

func quoteAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.Contains(a, " ") {
			a = `"` + a + `"`
		}
		out[i] = a
	}
	return out
}
