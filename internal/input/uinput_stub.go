//go:build !linux

package input

// UinputInjector is only available on Linux
type UinputInjector struct{}

// OpenUinput always fails outside Linux
func OpenUinput(width, height int) (*UinputInjector, error) {
	return nil, ErrUnsupportedPlatform
}

func (u *UinputInjector) HasPermission() bool { return false }

func (u *UinputInjector) Press(x, y int) error { return ErrUnsupportedPlatform }

func (u *UinputInjector) Release(x, y int) error { return ErrUnsupportedPlatform }

func (u *UinputInjector) Close() error { return nil }
