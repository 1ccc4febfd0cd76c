// Package autostart registers `skyplay serve` to run at login.
package autostart

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const label = "io.skyplay.serve"

// ErrUnsupportedPlatform is returned where no login mechanism is known
var ErrUnsupportedPlatform = errors.New("autostart not supported on this platform")

const launchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
{{- range .Command}}
        <string>{{.}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>
`

const desktopEntry = `[Desktop Entry]
Type=Application
Name=skyplay
Comment=Touch playback server
Exec={{join .Command}}
X-GNOME-Autostart-enabled=true
NoDisplay=true
`

// Entry is what gets launched at login
type Entry struct {
	Label   string
	Command []string // executable followed by its arguments
}

// NewEntry launches the running executable with args
func NewEntry(args ...string) (Entry, error) {
	exe, err := os.Executable()
	if err != nil {
		return Entry{}, errors.Wrap(err, "locate executable")
	}
	return Entry{Label: label, Command: append([]string{exe}, args...)}, nil
}

// Enable installs e for the current user
func Enable(e Entry) error {
	log := logrus.WithField("component", "autostart")

	if runtime.GOOS == "windows" {
		if err := enableRegistry(e); err != nil {
			return err
		}
		log.Infof("Autostart: Registered %s in the Run key", e.Label)
		return nil
	}

	path, tmpl, err := filePath()
	if err != nil {
		return err
	}
	data, err := render(tmpl, e)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create autostart dir")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "write autostart entry")
	}
	log.Infof("Autostart: Installed %s", path)
	return nil
}

// Disable removes the entry; it is not an error if none was installed
func Disable() error {
	if runtime.GOOS == "windows" {
		return disableRegistry()
	}
	path, _, err := filePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove autostart entry")
	}
	logrus.WithField("component", "autostart").Infof("Autostart: Removed %s", path)
	return nil
}

// IsEnabled reports whether an entry is installed
func IsEnabled() bool {
	if runtime.GOOS == "windows" {
		return registryEnabled()
	}
	path, _, err := filePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// filePath returns where the entry lives and its template, for the
// file-based platforms
func filePath() (string, string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", errors.Wrap(err, "home dir")
		}
		return filepath.Join(home, "Library", "LaunchAgents", label+".plist"), launchAgentPlist, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", "", errors.Wrap(err, "home dir")
			}
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, "autostart", "skyplay.desktop"), desktopEntry, nil
	}
	return "", "", errors.Wrap(ErrUnsupportedPlatform, runtime.GOOS)
}

func render(tmpl string, e Entry) ([]byte, error) {
	t, err := template.New("autostart").Funcs(template.FuncMap{
		"join": func(args []string) string {
			quoted := make([]string, len(args))
			for i, a := range args {
				quoted[i] = quoteExecArg(a)
			}
			return strings.Join(quoted, " ")
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, errors.Wrap(err, "parse autostart template")
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, e); err != nil {
		return nil, errors.Wrap(err, "render autostart entry")
	}
	return buf.Bytes(), nil
}

// quoteExecArg quotes an argument for a desktop entry Exec line
func quoteExecArg(a string) string {
	if a != "" && !strings.ContainsAny(a, " \t\"'\\$`") {
		return a
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	return `"` + r.Replace(a) + `"`
}

// commandLine joins e.Command for the Windows Run key
func commandLine(e Entry) string {
	parts := make([]string, len(e.Command))
	for i, a := range e.Command {
		if strings.ContainsAny(a, " \t") {
			a = `"` + a + `"`
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}
