// Package osutils holds the platform glue needed to expose the API server.
package osutils

import (
	"fmt"
	"net"
	"strconv"
)

// FirewallRuleName names the inbound rule for port
func FirewallRuleName(port int) string {
	return fmt.Sprintf("skyplay API %d", port)
}

// addRuleArgs are the netsh arguments that allow inbound TCP on port
func addRuleArgs(port int) []string {
	return []string{
		"advfirewall", "firewall", "add", "rule",
		"name=" + FirewallRuleName(port),
		"dir=in", "action=allow", "protocol=TCP",
		"localport=" + strconv.Itoa(port),
	}
}

// NeedsFirewallRule reports whether listening on host is reachable from
// other machines
func NeedsFirewallRule(host string) bool {
	switch host {
	case "":
		return true
	case "localhost":
		return false
	}
	ip := net.ParseIP(host)
	return ip == nil || !ip.IsLoopback()
}
