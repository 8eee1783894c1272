package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CN-TU/go-middlebox/middlebox"
	_ "github.com/CN-TU/go-middlebox/modules/audits/text"
	_ "github.com/CN-TU/go-middlebox/modules/filters/ports"
	_ "github.com/CN-TU/go-middlebox/modules/filters/trigger"
	"github.com/CN-TU/go-middlebox/modules/sinks/file"
	_ "github.com/CN-TU/go-middlebox/modules/sources/inline"
	"github.com/CN-TU/go-middlebox/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const example = `
workers: 2
ring_size: 2048
message_size: 128
idle: 20us
deadline: 0
jitter: 1000
ports:
  min: 0
  max: 100
connections:
  - from: 1
    to: 2
    source:
      type: inline
      options:
        data: "hello "
        repeat: 3
  - from: 3
    to: 3
    source:
      type: inline
      options:
        data: "looped"
filters:
  - type: ports
    options:
      sentinel: 99
sink:
  type: file
  options:
    dir: %s
audit:
  - type: text
    options:
      dir: %s
      content: false
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
connections:
  - from: 1
    to: 2
    source:
      type: inline
`))
	require.NoError(t, err)
	def := middlebox.DefaultConfig()
	ec := cfg.EngineConfig(nil)
	assert.Equal(t, def.Workers, ec.Workers)
	assert.Equal(t, def.Deadline, ec.Deadline)
	assert.Equal(t, def.Ports, ec.Ports)
	assert.Equal(t, []Module{{Type: "ports"}, {Type: "trigger"}}, cfg.Filters)
	assert.Equal(t, "file", cfg.Sink.Type)
}

func TestDuration(t *testing.T) {
	var v struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 10us\nb: 42\n"), &v))
	assert.Equal(t, Duration(10*time.Microsecond), v.A)
	assert.Equal(t, Duration(42), v.B)
	assert.Error(t, yaml.Unmarshal([]byte("a: soon\n"), &v))

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	w := v
	w.A, w.B = 0, 0
	require.NoError(t, yaml.Unmarshal(out, &w))
	assert.Equal(t, v, w)
}

func TestValidate(t *testing.T) {
	for name, data := range map[string]string{
		"no connections": "workers: 1\n",
		"from":           "ports: {min: 0, max: 10}\nconnections: [{from: 11, to: 1, source: {type: inline}}]\n",
		"to":             "ports: {min: 0, max: 10}\nconnections: [{from: 1, to: 11, source: {type: inline}}]\n",
		"source":         "connections: [{from: 1, to: 2}]\n",
		"workers":        "workers: 0\nconnections: [{from: 1, to: 2, source: {type: inline}}]\n",
		"sink":           "sink: {type: \"\"}\nconnections: [{from: 1, to: 2, source: {type: inline}}]\n",
		"duration":       "timeout: forever\nconnections: [{from: 1, to: 2, source: {type: inline}}]\n",
	} {
		_, err := Parse([]byte(data))
		assert.Error(t, err, name)
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateDuplicateSource(t *testing.T) {
	_, err := Parse([]byte(`
connections:
  - {from: 1, to: 2, source: {type: inline}}
  - {from: 1, to: 3, source: {type: inline}}
`))
	assert.ErrorIs(t, err, middlebox.ErrDuplicateSource)
	assert.ErrorContains(t, err, "connection 1")

	cfg, err := Parse([]byte(`
connections:
  - {from: 1, to: 2, source: {type: inline}}
  - {from: 2, to: 2, source: {type: inline}}
`))
	require.NoError(t, err)
	assert.Len(t, cfg.Connections, 2)
}

func TestEngine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmtExample(dir)), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, Duration(20*time.Microsecond), cfg.Idle)
	assert.Equal(t, Duration(time.Microsecond), cfg.Jitter)

	var created []string
	e, m, err := cfg.Engine(nil, func(m util.Module) { created = append(created, m.ID()) })
	require.NoError(t, err)
	assert.Equal(t, []string{"ports", "file", "text", "inline", "inline"}, created)
	require.NoError(t, e.Run(context.Background()))

	data, err := os.ReadFile(file.Path(dir, 2))
	require.NoError(t, err)
	assert.Equal(t, "hello hello hello ", string(data))
	_, err = os.Stat(file.Path(dir, 3))
	assert.True(t, os.IsNotExist(err))

	stats := e.Stats()
	assert.Equal(t, stats.Produced, stats.Accepted+stats.Blocked)
	assert.NotZero(t, stats.Blocked)
	assert.NoError(t, m.Finish())
}

func TestModulesCleanupOnError(t *testing.T) {
	cfg := Default()
	cfg.Sink = Module{Type: "file", Options: util.Options{"dir": t.TempDir()}}
	cfg.Audit = nil
	cfg.Connections = []Connection{{From: 1, To: 2, Source: Module{Type: "nonexistent"}}}
	_, err := cfg.Modules(nil)
	assert.Error(t, err)

	_, _, err = cfg.Engine(nil, nil)
	assert.Error(t, err)
}

func fmtExample(dir string) string {
	return fmt.Sprintf(example, dir, dir)
}
