package loader

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/tbhooks/go/models"
)

var UnknownMagic = errors.New("could not identify file magic")

func LoadFile(path string) (models.Loader, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return Load(bytes.NewReader(p))
}

func Load(r io.ReaderAt) (models.Loader, error) {
	if MatchNdh(r) {
		return NewNdhLoader(r)
	}
	return nil, errors.WithStack(UnknownMagic)
}
