package packet

import (
	"io"

	"github.com/CN-TU/go-middlebox/util"
)

const sourceName = "source"

// Source represents the content of a single connection. Read returns the next chunk and io.EOF at the end of the stream.
type Source interface {
	util.Module
	io.ReadCloser
}

// RegisterSource registers a source (see module system in util)
func RegisterSource(name, desc string, new util.ModuleCreator, help util.ModuleHelp) {
	util.RegisterModule(sourceName, name, desc, new, help)
}

// SourceHelp writes help for a specific source to w (see module system in util)
func SourceHelp(which string, w io.Writer) error {
	return util.GetModuleHelp(sourceName, which, w)
}

// MakeSource creates a source instance (see module system in util)
func MakeSource(which, name string, opts util.Options) (Source, error) {
	module, err := util.CreateModule(sourceName, which, name, opts)
	if err != nil {
		return nil, err
	}
	return module.(Source), nil
}

// ListSources returns a list of sources (see module system in util)
func ListSources() ([]util.ModuleDescription, error) {
	return util.GetModules(sourceName)
}
