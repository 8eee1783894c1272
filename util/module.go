package util

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Module interface.
// Modules need at least an ID() function returning a suitable string representation
// and an Init() function, which is called after the configuration was parsed and all the modules created.
type Module interface {
	ID() string
	Init() error
}

// ModuleCreator is a function, which creates a module. It is provided the
// instance name and the options from the configuration file.
type ModuleCreator func(name string, opts Options) (Module, error)

// ModuleHelp is provided the name of the module and must write a help description to w.
type ModuleHelp func(name string, w io.Writer)

// ModuleDescription contains name and description of a module
type ModuleDescription struct {
	name, desc string
}

// Name returns the name of this module
func (m ModuleDescription) Name() string {
	return m.name
}

// Description returns the description of this module
func (m ModuleDescription) Description() string {
	return m.desc
}

type moduleDefinition struct {
	ModuleDescription
	new  ModuleCreator
	help ModuleHelp
}

var (
	modulesMu sync.RWMutex
	modules   = make(map[string]map[string]moduleDefinition)
)

// RegisterModule registers a module with given type, name, description, module creator, and help function.
// Existing modules are overwritten.
func RegisterModule(typ, name, desc string, new ModuleCreator, help ModuleHelp) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	submodule, found := modules[typ]
	if !found {
		submodule = make(map[string]moduleDefinition)
		modules[typ] = submodule
	}
	submodule[name] = moduleDefinition{
		ModuleDescription: ModuleDescription{
			name: name,
			desc: desc,
		},
		new:  new,
		help: help,
	}
}

func lookup(typ, name string) (moduleDefinition, error) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	if submodules, ok := modules[typ]; ok {
		if module, ok := submodules[name]; ok {
			return module, nil
		}
	}
	return moduleDefinition{}, fmt.Errorf("couldn't find module of type %s with name %s", typ, name)
}

// GetModuleHelp writes the help text of the module identified by typ, name to w
func GetModuleHelp(typ, name string, w io.Writer) error {
	module, err := lookup(typ, name)
	if err != nil {
		return err
	}
	module.help(name, w)
	return nil
}

// GetModules returns the descriptions of the registered modules ordered by name
func GetModules(typ string) (descriptions []ModuleDescription, err error) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	submodules, ok := modules[typ]
	if !ok {
		err = fmt.Errorf("no modules with typ %s registered", typ)
		return
	}
	for _, module := range submodules {
		descriptions = append(descriptions, module.ModuleDescription)
	}
	sort.Slice(descriptions, func(i, j int) bool { return descriptions[i].name < descriptions[j].name })
	return
}

// CreateModule creates the module of the given type and kind (which) with the instance name and options.
// Init is called on the created module.
func CreateModule(typ, which, name string, opts Options) (Module, error) {
	module, err := lookup(typ, which)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = which
	}
	ret, err := module.new(name, opts)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", typ, which, err)
	}
	if err := ret.Init(); err != nil {
		return nil, fmt.Errorf("%s %s: init: %w", typ, which, err)
	}
	return ret, nil
}
