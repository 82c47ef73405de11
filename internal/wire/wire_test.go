package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `cbor:"n"`
	Count int    `cbor:"c"`
}

func TestMarshalDeterministic(t *testing.T) {
	m := map[string]int{"b": 2, "a": 1, "c": 3}
	first, err := Marshal(m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := payload{Name: "proxy", Count: 7}
	require.NoError(t, WriteFrame(&buf, in))

	var out payload
	require.NoError(t, ReadFrame(&buf, &out))
	assert.Equal(t, in, out)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		require.NoError(t, WriteFrame(&buf, payload{Count: i}))
	}
	for i := 0; i < 3; i++ {
		var out payload
		require.NoError(t, ReadFrame(&buf, &out))
		assert.Equal(t, i, out.Count)
	}
}

func TestOversizeFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	big := payload{Name: string(make([]byte, MaxFrame+1))}
	assert.Error(t, WriteFrame(&buf, big))
	assert.Zero(t, buf.Len())
}

func TestShortReadFails(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, payload{Name: "x"}))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])
	var out payload
	assert.Error(t, ReadFrame(truncated, &out))
}
