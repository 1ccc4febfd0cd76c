package osutils

import (
	"strings"
	"testing"
)

func TestNeedsFirewallRule(t *testing.T) {
	cases := map[string]bool{
		"":            true,
		"0.0.0.0":     true,
		"192.168.1.5": true,
		"myhost":      true,
		"127.0.0.1":   false,
		"::1":         false,
		"localhost":   false,
	}
	for host, want := range cases {
		if got := NeedsFirewallRule(host); got != want {
			t.Errorf("NeedsFirewallRule(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestAddRuleArgs(t *testing.T) {
	got := strings.Join(addRuleArgs(18090), " ")
	want := "advfirewall firewall add rule name=skyplay API 18090 dir=in action=allow protocol=TCP localport=18090"
	if got != want {
		t.Errorf("Unexpected args\n got: %s\nwant: %s", got, want)
	}
}
