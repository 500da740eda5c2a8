// Package pngdecode is the progressive PNG decoder collaborator the image
// lane drives. It exposes Start/Iterate/Process/Free exactly as spec'd: the
// lane advances the chunk scan and the pixel conversion in small, bounded
// steps instead of calling a single blocking Decode.
//
// No third-party PNG codec appears anywhere in the example corpus this
// package was grounded on, so the final pixel conversion in Process
// delegates to the standard library's image/png once the chunk scan has
// confirmed the stream is structurally complete (see DESIGN.md).
package pngdecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"io"
)

// Result is the terminal/step code Process reports, mirroring the external
// decoder's {NEXT, OK, ERROR, ERROR_END} contract.
type Result int

const (
	Next Result = iota
	OK
	Error
	ErrorEnd
)

func (r Result) String() string {
	switch r {
	case Next:
		return "next"
	case OK:
		return "ok"
	case Error:
		return "error"
	case ErrorEnd:
		return "error_end"
	default:
		return "unknown"
	}
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ErrNotPNG is returned when Iterate is driven over a buffer that doesn't
// start with the PNG signature.
var ErrNotPNG = errors.New("pngdecode: missing PNG signature")

// Decoder is an owned, single-use progressive decode context.
type Decoder struct {
	cursor   int
	sawIHDR  bool
	sawIDAT  bool
	sawIEND  bool
	signSeen bool

	width, height int
	decoded       *image.RGBA
	rowsExposed   int
	finalState    Result
}

// New returns an unstarted Decoder.
func New() *Decoder {
	return &Decoder{}
}

// Start resets the decoder to begin a fresh chunk scan. It always succeeds.
func (d *Decoder) Start() bool {
	*d = Decoder{}
	return true
}

// Iterate advances the chunk scan over buf by exactly one PNG chunk
// (4-byte length + 4-byte type + data + 4-byte CRC), recording which of
// IHDR/IDAT/IEND it has seen. It reports done when the buffer is exhausted
// or IEND has been consumed.
func (d *Decoder) Iterate(buf []byte) (done bool, err error) {
	if !d.signSeen {
		if len(buf) < len(pngSignature) || !bytes.Equal(buf[:len(pngSignature)], pngSignature) {
			return true, ErrNotPNG
		}
		d.cursor = len(pngSignature)
		d.signSeen = true
	}

	if d.cursor+8 > len(buf) {
		return true, nil
	}

	length := binary.BigEndian.Uint32(buf[d.cursor : d.cursor+4])
	chunkType := string(buf[d.cursor+4 : d.cursor+8])

	switch chunkType {
	case "IHDR":
		d.sawIHDR = true
		if d.cursor+16 <= len(buf) {
			d.width = int(binary.BigEndian.Uint32(buf[d.cursor+8 : d.cursor+12]))
			d.height = int(binary.BigEndian.Uint32(buf[d.cursor+12 : d.cursor+16]))
		}
	case "IDAT":
		d.sawIDAT = true
	case "IEND":
		d.sawIEND = true
	}

	advance := 4 + 4 + int(length) + 4
	d.cursor += advance

	if d.sawIEND || d.cursor >= len(buf) {
		return true, nil
	}
	return false, nil
}

// HeadersComplete reports whether IHDR, IDAT and IEND have all been seen.
// The image lane aborts when this is false after the chunk scan finishes.
func (d *Decoder) HeadersComplete() bool {
	return d.sawIHDR && d.sawIDAT && d.sawIEND
}

// Dimensions returns the width/height recorded from IHDR.
func (d *Decoder) Dimensions() (width, height int) {
	return d.width, d.height
}

// Process advances pixel conversion by up to rowsPerStep rows and returns
// Next until the image is fully materialized (OK) or conversion fails
// (Error / ErrorEnd). The underlying image/png codec decodes the whole
// buffer on the first call; subsequent calls only gate how much of the
// already-decoded buffer is exposed, which is what lets the caller bound
// per-tick work even though the codec itself is not truly streaming.
func (d *Decoder) Process(buf []byte, rowsPerStep int) Result {
	if d.finalState != Next && d.finalState != 0 {
		return d.finalState
	}
	if rowsPerStep < 1 {
		rowsPerStep = 1
	}

	if d.decoded == nil {
		img, err := png.Decode(bytes.NewReader(buf))
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				d.finalState = ErrorEnd
			} else {
				d.finalState = Error
			}
			return d.finalState
		}
		d.decoded = toRGBA(img)
		b := d.decoded.Bounds()
		d.width, d.height = b.Dx(), b.Dy()
	}

	d.rowsExposed += rowsPerStep
	if d.rowsExposed >= d.height {
		d.finalState = OK
		return OK
	}
	return Next
}

// Pixels returns the fully decoded RGBA buffer. It is only meaningful after
// Process has returned OK.
func (d *Decoder) Pixels() (pix []byte, width, height int) {
	if d.decoded == nil {
		return nil, 0, 0
	}
	return d.decoded.Pix, d.width, d.height
}

// Free releases the decoded buffer and resets the decoder to its zero
// state. Safe to call more than once.
func (d *Decoder) Free() {
	*d = Decoder{}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba
}
