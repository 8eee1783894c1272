package inline

import (
	"io"
	"testing"

	"github.com/CN-TU/go-middlebox/packet"
	"github.com/CN-TU/go-middlebox/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineSource(t *testing.T) {
	s, err := packet.MakeSource("inline", "", util.Options{"data": "ab", "repeat": 3})
	require.NoError(t, err)
	assert.Equal(t, "inline", s.ID())

	data, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "ababab", string(data))
	require.NoError(t, s.Close())

	n, err := s.Read(make([]byte, 4))
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
}

func TestInlineSourceOptions(t *testing.T) {
	_, err := packet.MakeSource("inline", "", util.Options{"repeat": -1})
	assert.Error(t, err)
	_, err = packet.MakeSource("inline", "", util.Options{"repeat": "many"})
	assert.Error(t, err)
}
