package tray

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"runtime"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"
)

const iconSize = 32

// Icon renders the tray icon: a white eighth note on a rounded teal tile.
// Windows gets the PNG wrapped in an ICO container.
func Icon() ([]byte, error) {
	png, err := renderIconPNG()
	if err != nil {
		return nil, err
	}
	if runtime.GOOS == "windows" {
		return wrapICO(png, iconSize), nil
	}
	return png, nil
}

func renderIconPNG() ([]byte, error) {
	dc := gg.NewContext(iconSize, iconSize)

	dc.SetColor(color.RGBA{0x1f, 0x8a, 0x8a, 0xff})
	dc.DrawRoundedRectangle(0, 0, iconSize, iconSize, 6)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawEllipse(12, 23, 6, 4.5)
	dc.Fill()
	dc.SetLineWidth(2.5)
	dc.DrawLine(17, 23, 17, 6)
	dc.Stroke()
	dc.MoveTo(17, 6)
	dc.QuadraticTo(25, 9, 24, 16)
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, errors.Wrap(err, "encode tray icon")
	}
	return buf.Bytes(), nil
}

// wrapICO builds a single-image ICO file whose image data is a PNG
func wrapICO(png []byte, size int) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, []uint16{0, 1, 1}) // reserved, type icon, count
	buf.WriteByte(byte(size))
	buf.WriteByte(byte(size))
	buf.WriteByte(0) // palette
	buf.WriteByte(0) // reserved
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // planes
	binary.Write(&buf, binary.LittleEndian, uint16(32)) // bpp
	binary.Write(&buf, binary.LittleEndian, uint32(len(png)))
	binary.Write(&buf, binary.LittleEndian, uint32(22)) // data offset
	buf.Write(png)
	return buf.Bytes()
}
