package kissadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_wrapsInLeadingAndTrailingFEND(t *testing.T) {
	out := Encode([]byte{1, 2, 3})
	require.True(t, len(out) >= 2)
	assert.Equal(t, byte(fend), out[0])
	assert.Equal(t, byte(fend), out[len(out)-1])
	assert.Equal(t, []byte{fend, 1, 2, 3, fend}, out)
}

func TestEncode_escapesFENDAndFESCBytes(t *testing.T) {
	out := Encode([]byte{fend, fesc, 0x42})
	assert.Equal(t, []byte{fend, fesc, tfend, fesc, tfesc, 0x42, fend}, out)
}

func TestDecode_reversesEncode(t *testing.T) {
	for _, payload := range [][]byte{
		nil,
		{},
		{0x01},
		{fend, fesc, tfend, tfesc},
		{0x00, 0xFF, 0x7E},
	} {
		encoded := Encode(payload)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		// nil and empty payloads encode to the same frame, so compare contents
		assert.Equal(t, string(payload), string(decoded))
	}
}

func TestDecode_toleratesMissingLeadingOrTrailingFEND(t *testing.T) {
	full := Encode([]byte{1, 2, 3})
	noLeading := full[1:]
	noTrailing := full[:len(full)-1]
	bare := full[1 : len(full)-1]

	for _, frame := range [][]byte{full, noLeading, noTrailing, bare} {
		decoded, err := Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, decoded)
	}
}

func TestDecode_errorsOnTruncatedEscape(t *testing.T) {
	_, err := Decode([]byte{fend, fesc})
	assert.Error(t, err)
}

func TestDecode_errorsOnInvalidEscapeByte(t *testing.T) {
	_, err := Decode([]byte{fend, fesc, 0x99, fend})
	assert.Error(t, err)
}
