// Package dataset loads sentence-pair examples and batches them for
// training and evaluation.
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Example is one sentence pair with its similarity score and entailment
// label, one JSON object per line on disk.
type Example struct {
	ID          string  `json:"id,omitempty"`
	Premise     string  `json:"premise"`
	Hypothesis  string  `json:"hypothesis"`
	Relatedness float64 `json:"relatedness"`
	Entailment  string  `json:"entailment"`
}

// Labels enumerates the entailment classes in index order.
var Labels = []string{"none", "entailment", "paraphrase"}

// LabelIndex maps an entailment label to its class index.
func LabelIndex(label string) (int, error) {
	needle := strings.ToLower(strings.TrimSpace(label))
	for i, l := range Labels {
		if l == needle {
			return i, nil
		}
	}
	return 0, fmt.Errorf("dataset: unknown entailment label %q", label)
}

// ReadJSONL reads examples from a JSON-lines file. Blank lines are skipped;
// a malformed line fails the whole load with its line number.
func ReadJSONL(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []Example
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var ex Example
		if err := json.Unmarshal([]byte(raw), &ex); err != nil {
			return nil, fmt.Errorf("dataset: %s:%d: %w", path, line, err)
		}
		if ex.Premise == "" || ex.Hypothesis == "" {
			return nil, fmt.Errorf("dataset: %s:%d: missing sentence pair", path, line)
		}
		out = append(out, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dataset: %s holds no examples", path)
	}
	return out, nil
}

// PairText is the encoder input for one example.
func PairText(ex Example) string {
	return ex.Premise + " " + ex.Hypothesis
}

// ScoreText renders the relatedness score the way generative regression
// expects to read it back.
func ScoreText(ex Example) string {
	return strconv.FormatFloat(ex.Relatedness, 'f', 1, 64)
}

// CorpusTexts returns every text the tokenizer needs to cover: both
// sentences plus the generative target strings.
func CorpusTexts(examples []Example) []string {
	out := make([]string, 0, len(examples)*3)
	for _, ex := range examples {
		out = append(out, PairText(ex), ScoreText(ex), ex.Entailment)
	}
	return out
}
