package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndExecuteSimpleScript(t *testing.T) {
	ctx := NewContext("test")
	r := NewRunner(ctx, "main")

	src, err := Parse([]byte("var x = 1 + 2;"), "script.js", 0, "", "")
	require.NoError(t, err)

	r.Load(src)
	state := r.Execute()
	assert.Equal(t, Succeeded, state)
}

func TestParseRejectsOversizedSource(t *testing.T) {
	big := make([]byte, MinMaxSourceBytes+1)
	for i := range big {
		big[i] = ' '
	}
	_, err := Parse(big, "big.js", MinMaxSourceBytes, "", "")
	assert.Error(t, err)
}

func TestParseStripsBOM(t *testing.T) {
	src := append([]byte{0xEF, 0xBB, 0xBF}, []byte("var y = 1;")...)
	_, err := Parse(src, "bom.js", 0, "", "")
	assert.NoError(t, err)
}

func TestCallInvokesNamedFunction(t *testing.T) {
	ctx := NewContext("test")
	r := NewRunner(ctx, "main")
	src, err := Parse([]byte("function add(a, b) { return a + b; }"), "fn.js", 0, "", "")
	require.NoError(t, err)
	r.Load(src)
	require.Equal(t, Succeeded, r.Execute())

	result, err := r.Call("add", 2, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 5, result.ToInteger())
}

func TestCallMissingFunctionReturnsError(t *testing.T) {
	ctx := NewContext("test")
	r := NewRunner(ctx, "main")
	_, err := r.Call("nope")
	assert.Error(t, err)
}

func TestPauseYieldsIncomplete(t *testing.T) {
	ctx := NewContext("test")
	r := NewRunner(ctx, "main")
	ctx.VM().Set("pause_now", func() {
		r.Pause()
	})
	src, err := Parse([]byte("pause_now();"), "pause.js", 0, "", "")
	require.NoError(t, err)
	r.Load(src)
	assert.Equal(t, Incomplete, r.Execute())
}
