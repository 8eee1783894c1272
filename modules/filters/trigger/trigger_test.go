package trigger

import (
	"testing"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContains(t *testing.T) {
	word := []byte(DefaultWord)
	for content, want := range map[string]bool{
		"malicious":                     true,
		"this is malicious":             true,
		"m-a-l-i-c-i-o-u-s":             true,
		"my alien ice cat is out, sadly": true,
		"malicous":                      false,
		"suoicilam":                     false,
		"":                              false,
		"MALICIOUS":                     false,
	} {
		assert.Equal(t, want, Contains([]byte(content), word), content)
	}
	assert.True(t, Contains([]byte("anything"), nil))
}

func TestTriggerFilterModule(t *testing.T) {
	f, err := packet.MakeFilter("trigger", "evil", util.Options{"word": "evil"})
	require.NoError(t, err)
	assert.Equal(t, "evil", f.ID())
	assert.True(t, f.Matches(1, 2, []byte("e.v.i.l")))
	assert.False(t, f.Matches(1, 2, []byte("malicious")))

	_, err = packet.MakeFilter("trigger", "", util.Options{"word": ""})
	assert.Error(t, err)

	def, err := packet.MakeFilter("trigger", "", nil)
	require.NoError(t, err)
	assert.True(t, def.Matches(1, 2, []byte("xmxaxlxixcxixoxuxsx")))
}
