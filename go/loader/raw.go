package loader

import (
	"github.com/lunixbochs/tbhooks/go/models"
	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

// RawLoader maps a bare code blob at a fixed address.
type RawLoader struct {
	LoaderHeader
	code []byte
}

func NewRawLoader(arch string, bits int, code []byte, base uint64) models.Loader {
	return &RawLoader{
		LoaderHeader: LoaderHeader{arch: arch, bits: bits, os: "none", entry: base},
		code:         code,
	}
}

func (r *RawLoader) Segments() ([]models.SegmentData, error) {
	return []models.SegmentData{{
		Addr: r.entry,
		Size: uint64(len(r.code)),
		Prot: cpu.PROT_READ | cpu.PROT_WRITE | cpu.PROT_EXEC,
		DataFunc: func() ([]byte, error) {
			return r.code, nil
		},
	}}, nil
}
