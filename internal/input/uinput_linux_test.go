//go:build linux

package input

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestEncodeTouchDown(t *testing.T) {
	now := time.Unix(1700000000, 123456000)
	data, err := encodeEvents(now, touchDown(5, 140, 200))
	if err != nil {
		t.Fatalf("encodeEvents: %v", err)
	}

	events := touchDown(5, 140, 200)
	size := binary.Size(inputEvent{})
	if ts := binary.Size(unix.Timeval{}); size != ts+8 {
		t.Fatalf("Expected a %d byte timeval plus 8 bytes, got record size %d", ts, size)
	}
	if len(data) != size*len(events) {
		t.Fatalf("Expected %d bytes, got %d", size*len(events), len(data))
	}

	decoded := make([]inputEvent, len(events))
	if err := binary.Read(bytes.NewReader(data), binary.NativeEndian, decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if sec, usec := int64(decoded[0].Time.Sec), int64(decoded[0].Time.Usec); sec != 1700000000 || usec != 123456 {
		t.Errorf("Unexpected timestamp %d.%06d", sec, usec)
	}

	// tracking id record
	rec := decoded[1]
	if rec.Type != evAbs {
		t.Errorf("Expected EV_ABS, got %d", rec.Type)
	}
	if rec.Code != absMTTrackingID {
		t.Errorf("Expected ABS_MT_TRACKING_ID, got 0x%X", rec.Code)
	}
	if rec.Value != 5 {
		t.Errorf("Expected tracking id 5, got %d", rec.Value)
	}

	if last := decoded[len(decoded)-1]; last.Type != evSyn {
		t.Errorf("Expected final SYN_REPORT, got type %d", last.Type)
	}
}

func TestTouchUpClearsTracking(t *testing.T) {
	events := touchUp()
	if events[1].Code != absMTTrackingID || events[1].Value != -1 {
		t.Errorf("Expected tracking id -1, got %+v", events[1])
	}
	if events[2].Code != btnTouch || events[2].Value != 0 {
		t.Errorf("Expected BTN_TOUCH 0, got %+v", events[2])
	}
}
