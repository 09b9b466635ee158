package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslationJobRequest_RoundTrip(t *testing.T) {
	req := TranslationJobRequest{
		JobID:      42,
		SourceLang: "en",
		TargetLang: "de",
		TransInfo:  true,
		SourceSent: []string{"Hello.", "World."},
	}
	e, err := req.Encode()
	require.NoError(t, err)

	data, err := e.Serialize()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	got, err := DecodeTranslationJobRequest(parsed)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestTranslationJobResponse_RoundTrip(t *testing.T) {
	resp := TranslationJobResponse{
		JobID: 42,
		TargetData: []TargetSentence{
			{TransText: "Hallo."},
			{TransText: "Welt.", StackLoad: 0.5},
		},
	}
	e, err := resp.Encode(StatusOK, "")
	require.NoError(t, err)

	data, err := e.Serialize()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)

	got, err := DecodeTranslationJobResponse(parsed)
	require.NoError(t, err)
	assert.Equal(t, resp, got)

	code, _ := parsed.Status()
	assert.Equal(t, StatusOK, code)
}

func TestProcessorRequest_RoundTrip(t *testing.T) {
	req := ProcessorRequest{
		JobToken:  "T1",
		ChunkIdx:  1,
		NumChunks: 3,
		Priority:  5,
		Language:  "auto",
		Chunk:     "fragment",
	}
	e, err := req.Encode()
	require.NoError(t, err)
	data, err := e.Serialize()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)

	got, err := DecodeProcessorRequest(parsed)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestProcessorResponse_SuccessOmitsNothing(t *testing.T) {
	resp := ProcessorResponse{JobToken: "T1", Language: "en", Chunk: "hi", ChunkIdx: 0, NumChunks: 1}
	e, err := resp.Encode(StatusOK, "")
	require.NoError(t, err)
	data, err := e.Serialize()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)

	got, err := DecodeProcessorResponse(parsed)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestProcessorResponse_ErrorHasNoChunkField(t *testing.T) {
	resp := ProcessorResponse{JobToken: "T1"}
	e, err := resp.Encode(StatusError, "bad input")
	require.NoError(t, err)

	assert.False(t, e.HasField("chunk"))
	assert.False(t, e.HasField("chunk_idx"))

	code, msg := e.Status()
	assert.Equal(t, StatusError, code)
	assert.Equal(t, "bad input", msg)
}

func TestSuppLangResponse_RoundTrip(t *testing.T) {
	resp := SuppLangResponse{Langs: map[string][]string{"en": {"de", "fr"}}}
	e, err := resp.Encode()
	require.NoError(t, err)
	data, err := e.Serialize()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)

	got, err := DecodeSuppLangResponse(parsed)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}
