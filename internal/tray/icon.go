package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/loykin/comfytray/internal/supervisor"
)

const iconSize = 22

var statusColors = map[supervisor.Status]color.RGBA{
	supervisor.StatusStarting:     {255, 149, 0, 255}, // amber
	supervisor.StatusConnected:    {52, 199, 89, 255}, // green
	supervisor.StatusDisconnected: {128, 128, 128, 255},
}

var (
	iconMu    sync.Mutex
	iconCache = map[string][]byte{}
)

// iconFor returns the tray icon for a status, PNG-in-ICO on Windows.
func iconFor(s supervisor.Status, goos string) []byte {
	key := s.String() + "/" + goos
	iconMu.Lock()
	defer iconMu.Unlock()
	if b, ok := iconCache[key]; ok {
		return b
	}
	b := renderDot(statusColors[s])
	if goos == "windows" {
		b = wrapICO(b, iconSize)
	}
	iconCache[key] = b
	return b
}

// renderDot draws a filled circle with a darker rim.
func renderDot(c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	rim := color.RGBA{c.R / 2, c.G / 2, c.B / 2, 255}
	center := float64(iconSize-1) / 2
	r := center - 1
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			d := dx*dx + dy*dy
			switch {
			case d <= (r-1.5)*(r-1.5):
				img.SetRGBA(x, y, c)
			case d <= r*r:
				img.SetRGBA(x, y, rim)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

// wrapICO embeds a PNG image in a single-entry ICO container.
func wrapICO(pngData []byte, size int) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	// ICONDIR
	_ = binary.Write(&buf, le, [3]uint16{0, 1, 1})
	// ICONDIRENTRY
	buf.WriteByte(byte(size))
	buf.WriteByte(byte(size))
	buf.WriteByte(0) // palette
	buf.WriteByte(0) // reserved
	_ = binary.Write(&buf, le, uint16(1))  // planes
	_ = binary.Write(&buf, le, uint16(32)) // bpp
	_ = binary.Write(&buf, le, uint32(len(pngData)))
	_ = binary.Write(&buf, le, uint32(6+16))
	buf.Write(pngData)
	return buf.Bytes()
}
