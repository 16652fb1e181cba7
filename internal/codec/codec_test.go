package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64Idempotence(t *testing.T) {
	// E5: Engine.atob(Engine.btoa(b)) == b for any binary string b.
	inputs := [][]byte{
		[]byte(""),
		[]byte("hello world"),
		{0x00, 0xff, 0x10, 0x7f},
	}
	for _, in := range inputs {
		encoded := Btoa(in)
		decoded, err := Atob(encoded)
		require.NoError(t, err)
		assert.Equal(t, in, decoded)
	}
}

func TestHexIdempotence(t *testing.T) {
	// E5: Engine.btoh(Engine.htob(h)) == h (lower-case) for even-length hex.
	cases := []string{"", "deadbeef", "0011ff"}
	for _, h := range cases {
		raw, err := Htob(h)
		require.NoError(t, err)
		assert.Equal(t, h, Btoh(raw))
	}
}

func TestHtobTrimsPrefix(t *testing.T) {
	raw, err := Htob("0xdead")
	require.NoError(t, err)
	assert.Equal(t, "dead", Btoh(raw))
}

func TestAtohHtoaRoundTrip(t *testing.T) {
	b64 := Btoa([]byte("round trip"))
	h, err := Atoh(b64)
	require.NoError(t, err)
	back, err := Htoa(h)
	require.NoError(t, err)
	assert.Equal(t, b64, back)
}

func TestHtobInvalid(t *testing.T) {
	_, err := Htob("xyz")
	assert.Error(t, err)
}
