package translator

import (
	"context"
	"strings"
)

// DummyBackend is a DecoderBackend stand-in for development and testing,
// grounded on original_source's dummy_trans_task.hpp ("used for the sake
// of testing only"). It performs no real translation: it returns the
// source sentence, optionally reversed word-by-word so callers can tell a
// translated sentence apart from the input in tests.
type DummyBackend struct {
	Reverse bool
}

// Translate satisfies DecoderBackend.
func (b DummyBackend) Translate(_ context.Context, _, _, sentence string, _ []string) (string, error) {
	if !b.Reverse {
		return sentence, nil
	}

	words := strings.Fields(sentence)
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	return strings.Join(words, " "), nil
}

var _ DecoderBackend = DummyBackend{}
