// Package tokenizer converts between text and token ids.
//
// The fine-tuning glue only consumes the Tokenizer contract; the subword
// algorithm behind a production vocabulary is out of scope here. The
// word-level implementation below is enough to drive training, generation
// and the generative evaluation paths end to end.
package tokenizer

import (
	"fmt"
	"sort"
	"strings"
)

// Reserved token ids. Every vocabulary starts with these.
const (
	PadID = 0
	UnkID = 1
	EOSID = 2
)

var reserved = []string{"<pad>", "<unk>", "</s>"}

// Tokenizer is the contract consumed by the dataset and model layers.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	VocabSize() int
}

// Word is a whitespace word-level tokenizer over a fixed vocabulary.
type Word struct {
	words []string
	index map[string]int
}

// NewWord builds a tokenizer from the given word list. Reserved tokens are
// prepended; duplicates in the list are rejected.
func NewWord(words []string) (*Word, error) {
	w := &Word{
		words: make([]string, 0, len(reserved)+len(words)),
		index: make(map[string]int, len(reserved)+len(words)),
	}
	for _, tok := range reserved {
		w.index[tok] = len(w.words)
		w.words = append(w.words, tok)
	}
	for _, tok := range words {
		if _, ok := w.index[tok]; ok {
			return nil, fmt.Errorf("tokenizer: duplicate word %q", tok)
		}
		w.index[tok] = len(w.words)
		w.words = append(w.words, tok)
	}
	return w, nil
}

// FromCorpus builds a vocabulary from the unique normalized tokens of the
// given texts. The word order is sorted, so the same corpus always yields
// the same ids.
func FromCorpus(texts []string) *Word {
	seen := make(map[string]struct{})
	for _, text := range texts {
		for _, tok := range normalize(text) {
			seen[tok] = struct{}{}
		}
	}
	for _, tok := range reserved {
		delete(seen, tok)
	}
	words := make([]string, 0, len(seen))
	for tok := range seen {
		words = append(words, tok)
	}
	sort.Strings(words)

	w, err := NewWord(words)
	if err != nil {
		// Unique, sorted and disjoint from the reserved set.
		panic(err)
	}
	return w
}

// Encode maps normalized words to ids, with unknown words mapped to UnkID.
func (w *Word) Encode(text string) ([]int, error) {
	toks := normalize(text)
	ids := make([]int, 0, len(toks))
	for _, tok := range toks {
		id, ok := w.index[tok]
		if !ok {
			id = UnkID
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decode joins the words for the given ids. Padding is skipped and decoding
// stops at the first end-of-sequence token.
func (w *Word) Decode(ids []int) (string, error) {
	var parts []string
	for _, id := range ids {
		if id == PadID {
			continue
		}
		if id == EOSID {
			break
		}
		if id < 0 || id >= len(w.words) {
			return "", fmt.Errorf("tokenizer: id %d out of range", id)
		}
		parts = append(parts, w.words[id])
	}
	return strings.Join(parts, " "), nil
}

func (w *Word) VocabSize() int {
	return len(w.words)
}

func normalize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
