package arch

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/tbhooks/go/arch/ndh"
	"github.com/lunixbochs/tbhooks/go/models"
)

var archMap = map[string]*models.Arch{
	"ndh": ndh.Arch,
}

func GetArch(name string) (*models.Arch, error) {
	a, ok := archMap[name]
	if !ok {
		return nil, errors.Errorf("arch %q not found", name)
	}
	return a, nil
}
