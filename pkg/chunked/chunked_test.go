package chunked

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, data []byte, maxChars int) []Chunk {
	t.Helper()
	var chunks []Chunk
	err := Split(data, maxChars, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	return chunks
}

func TestSplit_EmptyInputYieldsZeroChunks(t *testing.T) {
	chunks := collect(t, nil, 10)
	assert.Empty(t, chunks)
}

func TestSplit_ShortInputYieldsOneChunk(t *testing.T) {
	chunks := collect(t, []byte("hello"), 10)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[0].NumChunks)
	assert.Equal(t, "hello", string(chunks[0].Bytes))
}

func TestSplit_ExactMultipleOfMaxChars(t *testing.T) {
	chunks := collect(t, []byte("abcdef"), 2)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, 3, c.NumChunks)
	}
	assert.Equal(t, "ab", string(chunks[0].Bytes))
	assert.Equal(t, "cd", string(chunks[1].Bytes))
	assert.Equal(t, "ef", string(chunks[2].Bytes))
}

func TestSplit_ConcatenationEqualsInput(t *testing.T) {
	input := []byte("The quick brown fox jumps over the lazy dog, 日本語のテキストも含む。")
	for _, maxChars := range []int{1, 2, 3, 5, 1000} {
		var out []byte
		err := Split(input, maxChars, func(c Chunk) error {
			out = append(out, c.Bytes...)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, input, out, "maxChars=%d", maxChars)
	}
}

func TestSplit_NeverSplitsACodepoint(t *testing.T) {
	input := []byte("日本語のテキスト")
	chunks := collect(t, input, 1)
	for _, c := range chunks {
		assert.True(t, utf8.Valid(c.Bytes))
		r, size := utf8.DecodeRune(c.Bytes)
		assert.Equal(t, len(c.Bytes), size)
		assert.NotEqual(t, utf8.RuneError, r)
	}
}

func TestSplit_NumChunksKnownUpFront(t *testing.T) {
	chunks := collect(t, []byte("abcdefgh"), 3)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Equal(t, 3, c.NumChunks)
	}
}

func TestSplit_PropagatesCallbackError(t *testing.T) {
	boom := assert.AnError
	err := Split([]byte("abc"), 1, func(c Chunk) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
