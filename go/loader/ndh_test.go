package loader

import (
	"bytes"
	"testing"
)

func TestNdhRoundTrip(t *testing.T) {
	text := []byte{0x04, 0x02, 0x00, 0x01, 0x00, 0x1c}
	img, err := PackNdh(text)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(img, ndhMagic) || len(img) != 6+len(text) {
		t.Fatalf("bad image: %x", img)
	}
	l, err := Load(bytes.NewReader(img))
	if err != nil {
		t.Fatal(err)
	}
	if l.Arch() != "ndh" || l.Entry() != NdhBase || l.Bits() != 16 {
		t.Fatalf("bad header: %s %d %#x", l.Arch(), l.Bits(), l.Entry())
	}
	segs, err := l.Segments()
	if err != nil || len(segs) != 1 {
		t.Fatalf("segments: %v %v", segs, err)
	}
	data, _ := segs[0].Data()
	if !bytes.Equal(data, text) {
		t.Fatalf("text mismatch: %x", data)
	}
	if !segs[0].ContainsVirt(NdhBase+uint64(len(text))) {
		t.Error("segment lacks fetch padding")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(bytes.NewReader([]byte(""))); err == nil {
		t.Fatal("failed to error on loading empty file")
	}
	if _, err := Load(bytes.NewReader([]byte("\x7fELF"))); err == nil {
		t.Fatal("failed to error on unknown magic")
	}
	// header promises more text than present
	if _, err := Load(bytes.NewReader([]byte(".NDH\x10\x00\x1c"))); err == nil {
		t.Fatal("failed to error on truncated text")
	}
}
