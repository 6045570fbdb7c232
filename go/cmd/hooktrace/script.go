package hooktrace

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"gopkg.in/yaml.v3"

	"github.com/lunixbochs/tbhooks/go/hooks"
)

const defaultScript = "hooks.yml"

// Addr accepts decimal, 0x hex or 0o octal guest addresses.
type Addr uint64

func (a *Addr) UnmarshalYAML(value *yaml.Node) error {
	v, err := strconv.ParseUint(value.Value, 0, 64)
	if err != nil {
		return errors.Errorf("line %d: bad address %q", value.Line, value.Value)
	}
	*a = Addr(v)
	return nil
}

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := time.ParseDuration(value.Value)
	if err != nil {
		return errors.Errorf("line %d: bad duration %q", value.Line, value.Value)
	}
	*d = Duration(v)
	return nil
}

// HookSpec describes one hook to install.
type HookSpec struct {
	Addr        Addr    `yaml:"addr"`
	ASID        *uint64 `yaml:"asid,omitempty"`
	StartsBlock bool    `yaml:"starts_block"`
	Once        bool    `yaml:"once"`
	// hooks with the same owner name share an owner id
	Owner string   `yaml:"owner"`
	Regs  []string `yaml:"regs"`
	// registered from another goroutine this long after execution starts
	After Duration `yaml:"after"`
	// unregister the whole owner after this many hits of this hook
	DropOwnerAfter int `yaml:"drop_owner_after"`
	// luaish expression evaluating to func(pc); a truthy result removes the hook
	Lua string `yaml:"lua"`
}

func (h *HookSpec) MatchASID() hooks.ASID {
	if h.ASID == nil {
		return hooks.AnyASID
	}
	return hooks.MatchASID(*h.ASID)
}

type Script struct {
	Hooks []HookSpec `yaml:"hooks"`
}

func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parsing hook script")
	}
	for i := range s.Hooks {
		h := &s.Hooks[i]
		if h.Owner == "" {
			h.Owner = "default"
		}
		if h.DropOwnerAfter < 0 {
			return nil, errors.Errorf("hook %d: negative drop_owner_after", i)
		}
	}
	return &s, nil
}

func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ParseScript(data)
}

// DefaultScript loads hooks.yml from the user or system config folders, or returns nil.
func DefaultScript() (*Script, string, error) {
	dirs := configdir.New("tbhooks", "hooktrace")
	folder := dirs.QueryFolderContainsFile(defaultScript)
	if folder == nil {
		return nil, "", nil
	}
	data, err := folder.ReadFile(defaultScript)
	if err != nil {
		return nil, "", errors.WithStack(err)
	}
	s, err := ParseScript(data)
	return s, folder.Path, err
}

// ParseHookFlag parses addr[@asid].
func ParseHookFlag(s string) (HookSpec, error) {
	h := HookSpec{Owner: "cli"}
	addr, asid, hasASID := strings.Cut(s, "@")
	v, err := strconv.ParseUint(addr, 0, 64)
	if err != nil {
		return h, errors.Errorf("bad hook address %q", addr)
	}
	h.Addr = Addr(v)
	if hasASID {
		id, err := strconv.ParseUint(asid, 0, 64)
		if err != nil {
			return h, errors.Errorf("bad asid %q", asid)
		}
		h.ASID = &id
	}
	return h, nil
}
