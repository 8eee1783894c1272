package packet

import (
	"io"

	"github.com/CN-TU/go-middlebox/util"
)

const filterName = "filter"

// Filter represents a generic packet filter
type Filter interface {
	util.Module
	// Matches must return true, if this packet should be blocked
	Matches(src, dst Port, content []byte) bool
}

// Filters holds a collection of filters that are tried one after another
type Filters []Filter

// Match returns the first filter blocking the packet or nil
func (f Filters) Match(src, dst Port, content []byte) Filter {
	for _, filter := range f {
		if filter.Matches(src, dst, content) {
			return filter
		}
	}
	return nil
}

// Matches returns true if this packet should be blocked
func (f Filters) Matches(src, dst Port, content []byte) bool {
	return f.Match(src, dst, content) != nil
}

// RegisterFilter registers a filter (see module system in util)
func RegisterFilter(name, desc string, new util.ModuleCreator, help util.ModuleHelp) {
	util.RegisterModule(filterName, name, desc, new, help)
}

// FilterHelp writes help for a specific filter to w (see module system in util)
func FilterHelp(which string, w io.Writer) error {
	return util.GetModuleHelp(filterName, which, w)
}

// MakeFilter creates a filter instance (see module system in util)
func MakeFilter(which, name string, opts util.Options) (Filter, error) {
	module, err := util.CreateModule(filterName, which, name, opts)
	if err != nil {
		return nil, err
	}
	return module.(Filter), nil
}

// ListFilters returns a list of filters (see module system in util)
func ListFilters() ([]util.ModuleDescription, error) {
	return util.GetModules(filterName)
}
