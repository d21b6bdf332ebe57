package escpos

import (
	"bytes"
	"testing"
)

func TestEncodeBasicReceipt(t *testing.T) {
	doc := Document{
		Init{},
		Text{Data: "Test Print!", Newline: true},
		Cut{Mode: CutFull},
	}

	out, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	wantLen := 2 + len("Test Print!") + 1 + 3
	if len(out) != wantLen {
		t.Errorf("Encode length = %d; want %d", len(out), wantLen)
	}

	want := append([]byte{0x1B, 0x40}, []byte("Test Print!")...)
	want = append(want, 0x0A, 0x1D, 0x56, 0x00)
	if !bytes.Equal(out, want) {
		t.Errorf("Encode = % X; want % X", out, want)
	}
}

func TestEncodeCommandBytes(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		want []byte
	}{
		{"init", Init{}, []byte{0x1B, 0x40}},
		{"text without newline", Text{Data: "ab"}, []byte{'a', 'b'}},
		{"text with newline", Text{Data: "ab", Newline: true}, []byte{'a', 'b', 0x0A}},
		{"feed", Feed{Lines: 5}, []byte{0x1B, 0x64, 0x05}},
		{"full cut", Cut{Mode: CutFull}, []byte{0x1D, 0x56, 0x00}},
		{"partial cut", Cut{Mode: CutPartial}, []byte{0x1D, 0x56, 0x01}},
		{"align center", Align{To: AlignCenter}, []byte{0x1B, 0x61, 0x01}},
		{"raw passthrough", RawBytes{Data: []byte{0x00, 0xFF}}, []byte{0x00, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Encode(Document{tt.op})
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !bytes.Equal(out, tt.want) {
				t.Errorf("Encode = % X; want % X", out, tt.want)
			}
		})
	}
}

func TestEncodeRasterImage(t *testing.T) {
	// 16x2 pixels: 2 bytes per row, 4 bytes total
	bitmap := []byte{0xAA, 0x55, 0xFF, 0x00}
	doc := Document{RasterImage{Bitmap: bitmap, Width: 16, Height: 2, Scale: ScaleNormal}}

	out, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	header := []byte{0x1D, 0x76, 0x30, 0x00, 0x02, 0x00, 0x02, 0x00}
	want := append(header, bitmap...)
	if !bytes.Equal(out, want) {
		t.Errorf("Encode = % X; want % X", out, want)
	}
	if len(out) < len(bitmap) {
		t.Errorf("output length %d shorter than bitmap %d", len(out), len(bitmap))
	}
}

func TestEncodeRasterRowPadding(t *testing.T) {
	// 10px wide rounds up to 2 bytes per row
	bitmap := make([]byte, 2*3)
	out, err := Encode(Document{RasterImage{Bitmap: bitmap, Width: 10, Height: 3}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if out[4] != 0x02 || out[5] != 0x00 {
		t.Errorf("xL xH = %02X %02X; want 02 00", out[4], out[5])
	}
}

func TestEncodeRasterSizeMismatch(t *testing.T) {
	tests := []struct {
		name   string
		bitmap []byte
		w, h   int
	}{
		{"too short", make([]byte, 3), 16, 2},
		{"too long", make([]byte, 5), 16, 2},
		{"zero width", make([]byte, 4), 0, 2},
		{"zero height", make([]byte, 4), 16, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(Document{RasterImage{Bitmap: tt.bitmap, Width: tt.w, Height: tt.h}})
			if err == nil {
				t.Fatal("Encode accepted malformed raster image")
			}
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	bitmap := []byte{0x01, 0x02, 0x03, 0x04}
	doc := Document{
		Init{},
		Text{Data: "receipt", Newline: true},
		RasterImage{Bitmap: bitmap, Width: 16, Height: 2},
		Feed{Lines: 3},
		Cut{Mode: CutFull},
	}

	first, err := Encode(doc)
	if err != nil {
		t.Fatalf("first Encode failed: %v", err)
	}
	second, err := Encode(doc)
	if err != nil {
		t.Fatalf("second Encode failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("repeated Encode produced different bytes")
	}
	if !bytes.Equal(bitmap, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Error("Encode mutated the input bitmap")
	}
}

func TestEncodeCapacityIsExact(t *testing.T) {
	doc := Document{
		Init{},
		Align{To: AlignCenter},
		Text{Data: "hello", Newline: true},
		RasterImage{Bitmap: make([]byte, 8), Width: 8, Height: 8},
		Feed{Lines: 2},
		Cut{Mode: CutPartial},
	}

	size, err := encodedSize(doc)
	if err != nil {
		t.Fatalf("encodedSize failed: %v", err)
	}
	out, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(out) != size {
		t.Errorf("encodedSize = %d but Encode produced %d bytes", size, len(out))
	}
	if cap(out) != size {
		t.Errorf("Encode reallocated: cap %d, estimated %d", cap(out), size)
	}
}
