package tokenizer

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

type vocabFile struct {
	Words []string `json:"words"`
}

// Load reads a vocabulary file written by Save. The file holds only the
// non-reserved words.
func Load(path string) (*Word, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: read vocab: %w", err)
	}
	var vf vocabFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("tokenizer: parse vocab: %w", err)
	}
	return NewWord(vf.Words)
}

// Save writes the vocabulary (without the reserved prefix) to path.
func (w *Word) Save(path string) error {
	vf := vocabFile{Words: w.words[len(reserved):]}
	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenizer: encode vocab: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("tokenizer: write vocab: %w", err)
	}
	return nil
}
