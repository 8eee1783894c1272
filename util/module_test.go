package util

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testModule struct {
	id     string
	inited bool
	fail   bool
}

func (m *testModule) ID() string { return m.id }

func (m *testModule) Init() error {
	if m.fail {
		return errors.New("boom")
	}
	m.inited = true
	return nil
}

func newTestModule(name string, opts Options) (Module, error) {
	fail, err := opts.Bool("fail", false)
	if err != nil {
		return nil, err
	}
	return &testModule{id: name, fail: fail}, nil
}

func testHelp(name string, w io.Writer) {
	fmt.Fprintf(w, "help for %s", name)
}

func TestRegistry(t *testing.T) {
	RegisterModule("utiltest", "b", "second", newTestModule, testHelp)
	RegisterModule("utiltest", "a", "first", newTestModule, testHelp)

	descs, err := GetModules("utiltest")
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "a", descs[0].Name())
	assert.Equal(t, "first", descs[0].Description())
	assert.Equal(t, "b", descs[1].Name())

	var buf bytes.Buffer
	require.NoError(t, GetModuleHelp("utiltest", "a", &buf))
	assert.Equal(t, "help for a", buf.String())
	assert.Error(t, GetModuleHelp("utiltest", "missing", &buf))

	m, err := CreateModule("utiltest", "a", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", m.ID())
	assert.True(t, m.(*testModule).inited)

	m, err = CreateModule("utiltest", "a", "named", Options{})
	require.NoError(t, err)
	assert.Equal(t, "named", m.ID())

	_, err = CreateModule("utiltest", "a", "", Options{"fail": true})
	assert.ErrorContains(t, err, "init")

	_, err = CreateModule("utiltest", "missing", "", nil)
	assert.Error(t, err)

	_, err = GetModules("nothing")
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	opts := Options{
		"s":     "text",
		"i":     12,
		"is":    "13",
		"f":     14.0,
		"frac":  1.5,
		"b":     true,
		"bs":    "false",
		"d":     "10us",
		"list":  []interface{}{"x", "y"},
		"one":   "z",
		"wrong": []interface{}{1},
	}

	s, err := opts.String("s", "")
	require.NoError(t, err)
	assert.Equal(t, "text", s)
	s, err = opts.String("missing", "def")
	require.NoError(t, err)
	assert.Equal(t, "def", s)
	s, err = opts.String("i", "")
	require.NoError(t, err)
	assert.Equal(t, "12", s)

	for key, want := range map[string]int{"i": 12, "is": 13, "f": 14, "missing": 7} {
		i, err := opts.Int(key, 7)
		require.NoError(t, err, key)
		assert.Equal(t, want, i, key)
	}
	_, err = opts.Int("frac", 0)
	assert.Error(t, err)
	_, err = opts.Int("s", 0)
	assert.Error(t, err)

	b, err := opts.Bool("b", false)
	require.NoError(t, err)
	assert.True(t, b)
	b, err = opts.Bool("bs", true)
	require.NoError(t, err)
	assert.False(t, b)

	d, err := opts.Duration("d", 0)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Microsecond, d)
	d, err = opts.Duration("missing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
	_, err = opts.Duration("s", 0)
	assert.Error(t, err)

	l, err := opts.Strings("list")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, l)
	l, err = opts.Strings("one")
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, l)
	_, err = opts.Strings("wrong")
	assert.Error(t, err)
}
