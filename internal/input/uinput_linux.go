//go:build linux

package input

import (
	"bytes"
	"encoding/binary"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// linux/uinput.h and linux/input-event-codes.h
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiDevSetup   = 0x405C5503
	uiAbsSetup   = 0x401C5504
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiSetAbsBit  = 0x40045567
	uiSetPropBit = 0x4004556E

	evSyn = 0x00
	evKey = 0x01
	evAbs = 0x03

	synReport = 0x00
	btnTouch  = 0x14a

	absX              = 0x00
	absY              = 0x01
	absMTSlot         = 0x2f
	absMTPositionX    = 0x35
	absMTPositionY    = 0x36
	absMTTrackingID   = 0x39
	inputPropDirect   = 0x01
	busVirtual        = 0x06
	uinputMaxNameSize = 80
)

const uinputPath = "/dev/uinput"

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type uinputSetup struct {
	ID           inputID
	Name         [uinputMaxNameSize]byte
	FFEffectsMax uint32
}

type absInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

type uinputAbsSetup struct {
	Code uint16
	_    uint16
	Info absInfo
}

// inputEvent is struct input_event; the timeval width follows the platform
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// UinputInjector exposes a virtual direct-touch screen through /dev/uinput.
// Touches land on whatever the compositor maps that screen to.
type UinputInjector struct {
	mu      sync.Mutex
	file    *os.File
	width   int
	height  int
	tracked int32
	log     *logrus.Entry
}

// OpenUinput creates a virtual touchscreen of the given resolution
func OpenUinput(width, height int) (*UinputInjector, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid uinput screen size %dx%d", width, height)
	}

	f, err := os.OpenFile(uinputPath, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", uinputPath)
	}

	u := &UinputInjector{
		file:   f,
		width:  width,
		height: height,
		log:    logrus.WithField("component", "input"),
	}
	if err := u.setup(); err != nil {
		f.Close()
		return nil, err
	}

	u.log.Infof("Uinput: Virtual touchscreen %dx%d created", width, height)
	return u, nil
}

func (u *UinputInjector) setup() error {
	fd := int(u.file.Fd())

	bits := []struct {
		req uint
		val int
	}{
		{uiSetEvBit, evKey},
		{uiSetEvBit, evAbs},
		{uiSetKeyBit, btnTouch},
		{uiSetAbsBit, absX},
		{uiSetAbsBit, absY},
		{uiSetAbsBit, absMTSlot},
		{uiSetAbsBit, absMTPositionX},
		{uiSetAbsBit, absMTPositionY},
		{uiSetAbsBit, absMTTrackingID},
		{uiSetPropBit, inputPropDirect},
	}
	for _, b := range bits {
		if err := unix.IoctlSetInt(fd, b.req, b.val); err != nil {
			return errors.Wrapf(err, "uinput ioctl 0x%X(%d)", b.req, b.val)
		}
	}

	axes := []uinputAbsSetup{
		{Code: absX, Info: absInfo{Maximum: int32(u.width - 1)}},
		{Code: absY, Info: absInfo{Maximum: int32(u.height - 1)}},
		{Code: absMTSlot, Info: absInfo{Maximum: 0}},
		{Code: absMTPositionX, Info: absInfo{Maximum: int32(u.width - 1)}},
		{Code: absMTPositionY, Info: absInfo{Maximum: int32(u.height - 1)}},
		{Code: absMTTrackingID, Info: absInfo{Maximum: 0xFFFF}},
	}
	for i := range axes {
		if err := ioctlPtr(fd, uiAbsSetup, unsafe.Pointer(&axes[i])); err != nil {
			return errors.Wrapf(err, "uinput abs setup 0x%X", axes[i].Code)
		}
	}

	setup := uinputSetup{ID: inputID{Bustype: busVirtual, Vendor: 0x1209, Product: 0x5350, Version: 1}}
	copy(setup.Name[:], "skyplay touchscreen")
	if err := ioctlPtr(fd, uiDevSetup, unsafe.Pointer(&setup)); err != nil {
		return errors.Wrap(err, "uinput dev setup")
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		return errors.Wrap(err, "uinput dev create")
	}
	return nil
}

func ioctlPtr(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// HasPermission is true while the virtual device is alive
func (u *UinputInjector) HasPermission() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.file != nil
}

func (u *UinputInjector) Press(x, y int) error {
	if err := u.checkBounds(x, y); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tracked = (u.tracked + 1) & 0xFFFF
	return u.writeLocked(touchDown(u.tracked, x, y))
}

func (u *UinputInjector) Release(x, y int) error {
	if err := u.checkBounds(x, y); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.writeLocked(touchUp())
}

// Close destroys the virtual device
func (u *UinputInjector) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.file == nil {
		return nil
	}
	unix.IoctlSetInt(int(u.file.Fd()), uiDevDestroy, 0)
	err := u.file.Close()
	u.file = nil
	u.log.Info("Uinput: Virtual touchscreen destroyed")
	return err
}

func (u *UinputInjector) checkBounds(x, y int) error {
	if x < 0 || y < 0 || x >= u.width || y >= u.height {
		return errors.Wrapf(ErrOutOfBounds, "(%d,%d) outside %dx%d", x, y, u.width, u.height)
	}
	return nil
}

func (u *UinputInjector) writeLocked(events []inputEvent) error {
	if u.file == nil {
		return ErrDeviceClosed
	}
	data, err := encodeEvents(time.Now(), events)
	if err != nil {
		return err
	}
	if _, err := u.file.Write(data); err != nil {
		return errors.Wrap(err, "uinput write")
	}
	return nil
}

func touchDown(id int32, x, y int) []inputEvent {
	return []inputEvent{
		{Type: evAbs, Code: absMTSlot, Value: 0},
		{Type: evAbs, Code: absMTTrackingID, Value: id},
		{Type: evAbs, Code: absMTPositionX, Value: int32(x)},
		{Type: evAbs, Code: absMTPositionY, Value: int32(y)},
		{Type: evKey, Code: btnTouch, Value: 1},
		{Type: evAbs, Code: absX, Value: int32(x)},
		{Type: evAbs, Code: absY, Value: int32(y)},
		{Type: evSyn, Code: synReport},
	}
}

func touchUp() []inputEvent {
	return []inputEvent{
		{Type: evAbs, Code: absMTSlot, Value: 0},
		{Type: evAbs, Code: absMTTrackingID, Value: -1},
		{Type: evKey, Code: btnTouch, Value: 0},
		{Type: evSyn, Code: synReport},
	}
}

func encodeEvents(now time.Time, events []inputEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, ev := range events {
		ev.Time = unix.NsecToTimeval(now.UnixNano())
		if err := binary.Write(&buf, binary.NativeEndian, ev); err != nil {
			return nil, errors.Wrap(err, "encode input event")
		}
	}
	return buf.Bytes(), nil
}
