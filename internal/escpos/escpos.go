// Package escpos builds ESC/POS command streams for thermal receipt printers.
// Encoding is a pure transform: the same Document always produces the same
// bytes, and nothing here touches the network.
package escpos

import (
	"fmt"
)

// CutMode selects between a full and a partial paper cut.
type CutMode uint8

const (
	CutFull    CutMode = 0x00
	CutPartial CutMode = 0x01
)

// Alignment for subsequent content (ESC a n).
type Alignment uint8

const (
	AlignLeft   Alignment = 0
	AlignCenter Alignment = 1
	AlignRight  Alignment = 2
)

// RasterScale is the m parameter of GS v 0.
type RasterScale uint8

const (
	ScaleNormal       RasterScale = 0
	ScaleDoubleWidth  RasterScale = 1
	ScaleDoubleHeight RasterScale = 2
	ScaleQuad         RasterScale = 3
)

// Operation is one step of a print job. The set of implementations is closed;
// the encoder handles every kind exhaustively.
type Operation interface {
	isOperation()
}

// Init resets the printer to its power-on state (ESC @).
type Init struct{}

// Text emits Data verbatim, optionally followed by a line feed.
type Text struct {
	Data    string
	Newline bool
}

// Feed advances the paper by Lines lines (ESC d n).
type Feed struct {
	Lines uint8
}

// Cut cuts the paper (GS V m).
type Cut struct {
	Mode CutMode
}

// Align sets the alignment for subsequent content (ESC a n).
type Align struct {
	To Alignment
}

// RasterImage prints a packed 1bpp bitmap in raster mode (GS v 0).
// Bitmap is row-major, MSB = leftmost pixel, each row padded to a whole byte.
type RasterImage struct {
	Bitmap []byte
	Width  int // pixels
	Height int // pixels
	Scale  RasterScale
}

// RawBytes passes Data through uninterpreted. It is the escape hatch for commands
// not otherwise modeled.
type RawBytes struct {
	Data []byte
}

func (Init) isOperation()        {}
func (Text) isOperation()        {}
func (Feed) isOperation()        {}
func (Cut) isOperation()         {}
func (Align) isOperation()       {}
func (RasterImage) isOperation() {}
func (RawBytes) isOperation()    {}

// Document is an ordered sequence of operations, consumed once by Encode.
type Document []Operation

const (
	lf = 0x0A

	initLen   = 2 // ESC @
	feedLen   = 3 // ESC d n
	cutLen    = 3 // GS V m
	alignLen  = 3 // ESC a n
	rasterHdr = 8 // GS v 0 m xL xH yL yH
)

// rowBytes returns the number of bytes per bitmap row for a width in pixels.
func rowBytes(width int) int {
	return (width + 7) / 8
}

// validateRaster checks the bitmap length against the declared geometry.
func validateRaster(op RasterImage) error {
	if op.Width <= 0 || op.Height <= 0 {
		return fmt.Errorf("raster image has invalid geometry %dx%d", op.Width, op.Height)
	}
	xBytes := rowBytes(op.Width)
	if xBytes > 0xFFFF || op.Height > 0xFFFF {
		return fmt.Errorf("raster image %dx%d exceeds protocol limits", op.Width, op.Height)
	}
	expected := xBytes * op.Height
	if len(op.Bitmap) != expected {
		return fmt.Errorf("raster bitmap size mismatch (got %d, expected %d at %d bytes/row)",
			len(op.Bitmap), expected, xBytes)
	}
	return nil
}

// encodedSize computes the exact output length for doc so the buffer is
// allocated once. Raster geometry errors surface here, before any bytes are
// written.
func encodedSize(doc Document) (int, error) {
	size := 0
	for _, op := range doc {
		switch v := op.(type) {
		case Init:
			size += initLen
		case Text:
			size += len(v.Data)
			if v.Newline {
				size++
			}
		case Feed:
			size += feedLen
		case Cut:
			size += cutLen
		case Align:
			size += alignLen
		case RasterImage:
			if err := validateRaster(v); err != nil {
				return 0, err
			}
			size += rasterHdr + len(v.Bitmap)
		case RawBytes:
			size += len(v.Data)
		default:
			return 0, fmt.Errorf("unknown print operation %T", op)
		}
	}
	return size, nil
}

// Encode turns doc into the exact byte stream the printer expects. Operations
// are emitted in document order; the input is never modified.
func Encode(doc Document) ([]byte, error) {
	size, err := encodedSize(doc)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, size)
	for _, op := range doc {
		switch v := op.(type) {
		case Init:
			out = append(out, 0x1B, 0x40)
		case Text:
			out = append(out, v.Data...)
			if v.Newline {
				out = append(out, lf)
			}
		case Feed:
			out = append(out, 0x1B, 0x64, v.Lines)
		case Cut:
			out = append(out, 0x1D, 0x56, byte(v.Mode))
		case Align:
			out = append(out, 0x1B, 0x61, byte(v.To))
		case RasterImage:
			xBytes := rowBytes(v.Width)
			out = append(out, 0x1D, 0x76, 0x30, byte(v.Scale),
				byte(xBytes&0xFF), byte(xBytes>>8&0xFF),
				byte(v.Height&0xFF), byte(v.Height>>8&0xFF))
			out = append(out, v.Bitmap...)
		case RawBytes:
			out = append(out, v.Data...)
		}
	}
	return out, nil
}

// ParseCutMode maps the wire spellings of a cut mode ("partial", "p", default
// full) onto a CutMode.
func ParseCutMode(s string) CutMode {
	switch s {
	case "partial", "PARTIAL", "p":
		return CutPartial
	default:
		return CutFull
	}
}
