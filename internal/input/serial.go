package input

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	frameSOF0 = 0xAA
	frameSOF1 = 0x55

	CmdPress   byte = 0x20
	CmdRelease byte = 0x21

	maxCoord = 0xFFFF
)

// Frame is one command for the external tapper.
type Frame struct {
	Cmd byte
	X   uint16
	Y   uint16
	Seq byte
}

// Encode builds the on-wire representation:
//
//	[SOF0][SOF1][LEN][CMD][x hi][x lo][y hi][y lo][SEQ][CKS]
//
// LEN counts CMD plus payload; CKS is the XOR of LEN, CMD and the payload.
func (f *Frame) Encode() []byte {
	payload := []byte{byte(f.X >> 8), byte(f.X), byte(f.Y >> 8), byte(f.Y), f.Seq}

	length := byte(len(payload) + 1)
	cks := length ^ f.Cmd
	for _, b := range payload {
		cks ^= b
	}

	out := []byte{frameSOF0, frameSOF1, length, f.Cmd}
	out = append(out, payload...)
	return append(out, cks)
}

// SerialInjector drives a microcontroller tapper (solenoid or stylus arm)
// connected over a serial port.
type SerialInjector struct {
	mu     sync.Mutex
	port   io.WriteCloser
	seq    byte
	closed bool
	log    *logrus.Entry
}

// OpenSerial opens the named serial device at the given baud rate
func OpenSerial(name string, baud int) (*SerialInjector, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", name)
	}
	s := newSerialInjector(p)
	s.log.Infof("Serial: Port %s opened at %d baud", name, baud)
	return s, nil
}

func newSerialInjector(port io.WriteCloser) *SerialInjector {
	return &SerialInjector{
		port: port,
		log:  logrus.WithField("component", "input"),
	}
}

// HasPermission is true while the port is open
func (s *SerialInjector) HasPermission() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *SerialInjector) Press(x, y int) error {
	return s.send(CmdPress, x, y)
}

func (s *SerialInjector) Release(x, y int) error {
	return s.send(CmdRelease, x, y)
}

// Close closes the underlying serial port
func (s *SerialInjector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Info("Serial: Closing port")
	return s.port.Close()
}

func (s *SerialInjector) send(cmd byte, x, y int) error {
	if x < 0 || y < 0 || x > maxCoord || y > maxCoord {
		return errors.Wrapf(ErrOutOfBounds, "(%d,%d)", x, y)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDeviceClosed
	}

	s.seq++
	f := Frame{Cmd: cmd, X: uint16(x), Y: uint16(y), Seq: s.seq}
	data := f.Encode()
	if _, err := s.port.Write(data); err != nil {
		return errors.Wrap(err, "serial write")
	}
	s.log.Debugf("Serial: Frame sent cmd=0x%02X (%d,%d) seq=%d", cmd, x, y, f.Seq)
	return nil
}
