package loader

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/lunixbochs/tbhooks/go/models"
	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

var ndhMagic = []byte{0x2e, 0x4e, 0x44, 0x48}

// NDH images are always mapped here
const NdhBase = 0x8000

func MatchNdh(r io.ReaderAt) bool {
	var p [4]byte
	_, err := r.ReadAt(p[:], 0)
	return err == nil && bytes.Equal(p[:], ndhMagic)
}

type ndhHeader struct {
	Magic [4]byte
	Size  uint16
}

type NdhLoader struct {
	LoaderHeader
	Text    []byte
	TextOff int
}

func unpackAt(r io.ReaderAt, i interface{}, at int64) (int, error) {
	size, err := struc.Sizeof(i)
	if err != nil {
		return 0, err
	}
	return size, struc.UnpackWithOrder(io.NewSectionReader(r, at, int64(size)), i, binary.LittleEndian)
}

func NewNdhLoader(r io.ReaderAt) (models.Loader, error) {
	var header ndhHeader
	off, err := unpackAt(r, &header, 0)
	if err != nil {
		return nil, errors.Wrap(err, "reading ndh header")
	}
	if !bytes.Equal(header.Magic[:], ndhMagic) {
		return nil, errors.WithStack(UnknownMagic)
	}
	text := make([]byte, header.Size)
	if _, err := r.ReadAt(text, int64(off)); err != nil {
		return nil, errors.Wrapf(err, "reading %d bytes of text", header.Size)
	}
	return &NdhLoader{
		LoaderHeader: LoaderHeader{
			arch:      "ndh",
			bits:      16,
			os:        "ndh",
			entry:     NdhBase,
			byteOrder: binary.LittleEndian,
		},
		Text:    text,
		TextOff: off,
	}, nil
}

// PackNdh builds an image around text.
func PackNdh(text []byte) ([]byte, error) {
	var buf bytes.Buffer
	header := &ndhHeader{Size: uint16(len(text))}
	copy(header.Magic[:], ndhMagic)
	if err := struc.PackWithOrder(&buf, header, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "packing ndh header")
	}
	buf.Write(text)
	return buf.Bytes(), nil
}

func (n *NdhLoader) Segments() ([]models.SegmentData, error) {
	return []models.SegmentData{{
		Off:  uint64(n.TextOff),
		Addr: NdhBase,
		// pad so the decoder can always fetch a full instruction
		Size: uint64(len(n.Text)) + 4,
		Prot: cpu.PROT_READ | cpu.PROT_EXEC,
		DataFunc: func() ([]byte, error) {
			return n.Text, nil
		},
	}}, nil
}
