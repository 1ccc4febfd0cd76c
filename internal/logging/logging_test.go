package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
		ok   bool
	}{
		{"error", logrus.ErrorLevel, true},
		{"WARN", logrus.WarnLevel, true},
		{"warning", logrus.WarnLevel, true},
		{" info ", logrus.InfoLevel, true},
		{"debug", logrus.DebugLevel, true},
		{"trace", logrus.InfoLevel, false},
		{"", logrus.InfoLevel, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupFiltersByLevel(t *testing.T) {
	defer logrus.SetOutput(logrus.StandardLogger().Out)
	defer logrus.SetLevel(logrus.GetLevel())

	var buf bytes.Buffer
	if err := Setup("warn", &buf); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	logrus.WithField("component", "test").Info("Test: hidden")
	logrus.WithField("component", "test").Warn("Test: shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("Unexpected log output %q", out)
	}
	if !strings.Contains(out, "component=test") {
		t.Errorf("Expected component field in %q", out)
	}

	if err := Setup("loud", &buf); err == nil {
		t.Error("Expected error for unknown level")
	}
}
