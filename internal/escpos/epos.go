package escpos

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// BitOrder says which end of a bitmap byte is the leftmost pixel. ESC/POS
// expects MSB-first; some clients pack LSB-first and need their bytes
// reversed.
type BitOrder uint8

const (
	MsbFirst BitOrder = iota
	LsbFirst
)

// ParseBool interprets the truthy spellings accepted on the wire.
func ParseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// ParseBitOrder maps "lsb"/"lsb_first" to LsbFirst, anything else to MsbFirst.
func ParseBitOrder(s string) BitOrder {
	if strings.EqualFold(s, "lsb") || strings.EqualFold(s, "lsb_first") {
		return LsbFirst
	}
	return MsbFirst
}

func parseAlign(s string) Alignment {
	switch {
	case strings.EqualFold(s, "center"):
		return AlignCenter
	case strings.EqualFold(s, "right"):
		return AlignRight
	}
	return AlignLeft
}

func parseScale(s string) RasterScale {
	switch strings.ToLower(s) {
	case "2w":
		return ScaleDoubleWidth
	case "2h":
		return ScaleDoubleHeight
	case "2x", "2":
		return ScaleQuad
	}
	return ScaleNormal
}

func bitReverse(b byte) byte {
	b = b&0xF0>>4 | b&0x0F<<4
	b = b&0xCC>>2 | b&0x33<<2
	b = b&0xAA>>1 | b&0x55<<1
	return b
}

// maxEposBitmap caps the padded bitmap size. Padding is driven by the
// declared geometry, not the supplied data, so without a cap a small body
// could declare a multi-gigabyte image.
const maxEposBitmap = 8 << 20 // 8 MiB, ~2 km of 576px receipt

// eposImage is one <image> element collected while walking the SOAP body.
type eposImage struct {
	width    int
	height   int
	align    Alignment
	gapLines uint8
	scale    RasterScale
	invert   bool
	bitOrder BitOrder
	b64      strings.Builder
}

// EposOverrides carries per-request overrides (query/header) applied to every
// image in the body. Nil fields keep the value declared in the XML.
type EposOverrides struct {
	Invert   *bool
	BitOrder *BitOrder
}

// ParseEpos parses an ePOS-Print SOAP body into a Document: init, then per
// image [align, raster, gap feed], align reset, and the requested cut (a
// 3-line feed plus full cut when the body names none). Element names match on
// their local part so any namespace prefix is accepted.
func ParseEpos(body []byte, ov EposOverrides) (Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	var images []*eposImage
	var current *eposImage
	cut := ""
	haveCut := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("XML parse error: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch strings.ToLower(t.Name.Local) {
			case "image":
				current = &eposImage{}
				for _, a := range t.Attr {
					val := a.Value
					switch strings.ToLower(a.Name.Local) {
					case "width":
						current.width, _ = strconv.Atoi(val)
					case "height":
						current.height, _ = strconv.Atoi(val)
					case "align":
						current.align = parseAlign(val)
					case "gap":
						gap, _ := strconv.Atoi(val)
						if gap > 0 && gap <= 0xFF {
							current.gapLines = uint8(gap)
						}
					case "scale":
						current.scale = parseScale(val)
					case "invert":
						current.invert = ParseBool(val)
					case "bit_order":
						current.bitOrder = ParseBitOrder(val)
					}
				}
			case "cut":
				for _, a := range t.Attr {
					if strings.EqualFold(a.Name.Local, "type") {
						cut = a.Value
						haveCut = true
					}
				}
			}
		case xml.CharData:
			if current != nil {
				current.b64.Write(t)
			}
		case xml.EndElement:
			if strings.ToLower(t.Name.Local) == "image" && current != nil {
				images = append(images, current)
				current = nil
			}
		}
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("ePOS payload contains no <image> element")
	}

	doc := Document{Init{}}
	for _, img := range images {
		op, err := img.toOperation(ov)
		if err != nil {
			return nil, err
		}
		doc = append(doc, Align{To: img.align}, op)
		if img.gapLines > 0 {
			doc = append(doc, Feed{Lines: img.gapLines})
		}
	}
	doc = append(doc, Align{To: AlignLeft})

	switch {
	case haveCut && strings.EqualFold(cut, "partial"):
		doc = append(doc, Cut{Mode: CutPartial})
	case haveCut && !strings.EqualFold(cut, "feed"):
		doc = append(doc, Cut{Mode: CutFull})
	default:
		// cut type "feed", or no cut element: feed clear of the blade first
		doc = append(doc, Feed{Lines: 3}, Cut{Mode: CutFull})
	}

	return doc, nil
}

func (img *eposImage) toOperation(ov EposOverrides) (RasterImage, error) {
	raw := img.b64.String()
	if img.width <= 0 || img.height <= 0 || strings.TrimSpace(raw) == "" {
		return RasterImage{}, fmt.Errorf("<image> element incomplete (width/height/base64)")
	}
	// Bound the declared geometry before sizing the padded buffer, so a
	// hostile body cannot drive a huge or overflowing allocation. Width is
	// compared directly because rowBytes itself overflows near MaxInt.
	if img.width > 8*0xFFFF || img.height > 0xFFFF ||
		rowBytes(img.width)*img.height > maxEposBitmap {
		return RasterImage{}, fmt.Errorf("raster image %dx%d exceeds protocol limits", img.width, img.height)
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, raw)

	bitmap, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return RasterImage{}, fmt.Errorf("invalid base64 in <image>: %w", err)
	}

	// Pad or truncate to the declared geometry; clients disagree about
	// trailing padding.
	expected := rowBytes(img.width) * img.height
	if len(bitmap) < expected {
		padded := make([]byte, expected)
		copy(padded, bitmap)
		bitmap = padded
	} else if len(bitmap) > expected {
		bitmap = bitmap[:expected]
	}

	invert := img.invert
	if ov.Invert != nil {
		invert = *ov.Invert
	}
	order := img.bitOrder
	if ov.BitOrder != nil {
		order = *ov.BitOrder
	}
	if invert {
		for i := range bitmap {
			bitmap[i] = ^bitmap[i]
		}
	}
	if order == LsbFirst {
		for i := range bitmap {
			bitmap[i] = bitReverse(bitmap[i])
		}
	}

	return RasterImage{
		Bitmap: bitmap,
		Width:  img.width,
		Height: img.height,
		Scale:  img.scale,
	}, nil
}
