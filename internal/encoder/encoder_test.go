package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Trojaner/ImpostorBot/internal/vocab"
)

func newEncoder(t *testing.T, window int) *Encoder {
	t.Helper()
	tok, err := vocab.NewTokenizer(vocab.GranularityChar)
	require.NoError(t, err)
	v, err := vocab.Build([][]string{tok.Split("abcd")}, vocab.Options{
		Granularity: vocab.GranularityChar,
		UnknownMode: vocab.UnknownDrop,
		MaxTokens:   10,
	})
	require.NoError(t, err)
	e, err := New(v, window)
	require.NoError(t, err)
	return e
}

func TestPad_LeftPadsShortSequences(t *testing.T) {
	e := newEncoder(t, 5)
	ids := e.Tokenize("ab")
	assert.Equal(t, []int{vocab.PadIndex, vocab.PadIndex, vocab.PadIndex, ids[0], ids[1]}, e.Pad(ids))
}

func TestPad_KeepsSuffixOfLongSequences(t *testing.T) {
	e := newEncoder(t, 3)
	window := e.Encode("abcdab")
	assert.Equal(t, e.Tokenize("dab"), window)
	assert.Equal(t, "dab", e.Decode(window))
}

func TestPair_TargetIsShiftedInput(t *testing.T) {
	e := newEncoder(t, 4)
	ids := e.Tokenize("abc")

	input, target, ok := e.Pair(ids)
	require.True(t, ok)
	assert.Equal(t, []int{vocab.PadIndex, ids[0], ids[1], ids[2]}, input)
	assert.Equal(t, []int{vocab.PadIndex, ids[1], ids[2], vocab.EndIndex}, target)

	_, _, ok = e.Pair(nil)
	assert.False(t, ok)
}

func TestPair_TruncatesAligned(t *testing.T) {
	e := newEncoder(t, 2)
	ids := e.Tokenize("abcd")

	input, target, ok := e.Pair(ids)
	require.True(t, ok)
	assert.Equal(t, []int{ids[2], ids[3]}, input)
	assert.Equal(t, []int{ids[3], vocab.EndIndex}, target)
}

func TestOneHot(t *testing.T) {
	e := newEncoder(t, 2)
	rows := e.OneHot(e.Encode("c"))
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Len(t, row, e.Width())
	}
	assert.Equal(t, float32(1), rows[0][vocab.PadIndex])
	c, _ := e.Vocabulary().Index("c")
	assert.Equal(t, float32(1), rows[1][c])
}

func TestWindowFor(t *testing.T) {
	seqs := [][]int{{1}, {1, 2, 3}, {1, 2}}
	assert.Equal(t, 3, WindowFor(seqs, 10))
	assert.Equal(t, 2, WindowFor(seqs, 2))
	assert.Equal(t, 0, WindowFor(nil, 2))
}

func TestState_RoundTrip(t *testing.T) {
	e := newEncoder(t, 3)
	restored, err := FromState(e.State())
	require.NoError(t, err)
	assert.Equal(t, e.Window(), restored.Window())
	assert.Equal(t, e.Encode("bad"), restored.Encode("bad"))

	_, err = New(e.Vocabulary(), 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}
