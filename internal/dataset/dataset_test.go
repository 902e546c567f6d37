package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pmoura/seqtune/internal/tokenizer"
)

func writeJSONL(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testExamples() []Example {
	return []Example{
		{Premise: "a man plays guitar", Hypothesis: "a person plays music", Relatedness: 4.2, Entailment: "entailment"},
		{Premise: "a dog runs", Hypothesis: "a cat sleeps", Relatedness: 1.3, Entailment: "none"},
		{Premise: "kids play soccer", Hypothesis: "children play football", Relatedness: 4.8, Entailment: "paraphrase"},
	}
}

func testTokenizer(examples []Example) tokenizer.Tokenizer {
	return tokenizer.FromCorpus(CorpusTexts(examples))
}

func TestReadJSONL(t *testing.T) {
	path := writeJSONL(t, `{"premise":"a b","hypothesis":"c d","relatedness":3.5,"entailment":"none"}

{"premise":"x","hypothesis":"y","relatedness":1.0,"entailment":"paraphrase"}
`)
	examples, err := ReadJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(examples) != 2 {
		t.Fatalf("expected 2 examples, got %d", len(examples))
	}
	if examples[0].Relatedness != 3.5 {
		t.Fatalf("bad relatedness: %v", examples[0].Relatedness)
	}
}

func TestReadJSONLErrors(t *testing.T) {
	if _, err := ReadJSONL(writeJSONL(t, "{not json}\n")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ReadJSONL(writeJSONL(t, `{"premise":"x","hypothesis":"","relatedness":1,"entailment":"none"}`+"\n")); err == nil {
		t.Fatal("expected error for missing sentence")
	}
	if _, err := ReadJSONL(writeJSONL(t, "\n\n")); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestLabelIndex(t *testing.T) {
	if idx, err := LabelIndex("Entailment"); err != nil || idx != 1 {
		t.Fatalf("LabelIndex(Entailment) = %d, %v", idx, err)
	}
	if _, err := LabelIndex("maybe"); err == nil {
		t.Fatal("expected error for unknown label")
	}
}

func TestLoaderBatchShapes(t *testing.T) {
	examples := testExamples()
	loader, err := NewLoader(examples, testTokenizer(examples), LoaderConfig{
		BatchSize: 2,
		SeqLen:    8,
		Target:    TargetScore,
	})
	if err != nil {
		t.Fatal(err)
	}

	if loader.NumBatches() != 2 {
		t.Fatalf("expected 2 batches, got %d", loader.NumBatches())
	}

	b, err := loader.Batch(0)
	if err != nil {
		t.Fatal(err)
	}
	if b.Size() != 2 {
		t.Fatalf("expected full batch of 2, got %d", b.Size())
	}
	for i := range b.InputIDs {
		if len(b.InputIDs[i]) != 8 || len(b.Mask[i]) != 8 || len(b.Features[i]) != 8 {
			t.Fatal("input not padded to sequence length")
		}
		if len(b.Target[i]) != 5 {
			t.Fatalf("target not padded to default length: %d", len(b.Target[i]))
		}
	}

	last, err := loader.Batch(1)
	if err != nil {
		t.Fatal(err)
	}
	if last.Size() != 1 {
		t.Fatalf("expected trailing partial batch of 1, got %d", last.Size())
	}
}

func TestLoaderMaskMatchesContent(t *testing.T) {
	examples := testExamples()
	tok := testTokenizer(examples)
	loader, err := NewLoader(examples, tok, LoaderConfig{BatchSize: 3, SeqLen: 16})
	if err != nil {
		t.Fatal(err)
	}
	b, err := loader.Batch(0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range b.InputIDs {
		ids, _ := tok.Encode(PairText(examples[i]))
		for j := range b.Mask[i] {
			want := j < len(ids)
			if b.Mask[i][j] != want {
				t.Fatalf("mask[%d][%d] = %v, want %v", i, j, b.Mask[i][j], want)
			}
		}
	}
}

func TestLoaderTargetKinds(t *testing.T) {
	examples := testExamples()
	tok := testTokenizer(examples)

	score, err := NewLoader(examples, tok, LoaderConfig{BatchSize: 3, SeqLen: 8, Target: TargetScore})
	if err != nil {
		t.Fatal(err)
	}
	b, err := score.Batch(0)
	if err != nil {
		t.Fatal(err)
	}
	// First target token decodes back to the rendered score.
	text, err := tok.Decode([]int{b.Target[0][0]})
	if err != nil {
		t.Fatal(err)
	}
	if text != "4.2" {
		t.Fatalf("score target decodes to %q, want 4.2", text)
	}

	label, err := NewLoader(examples, tok, LoaderConfig{BatchSize: 3, SeqLen: 8, Target: TargetLabel})
	if err != nil {
		t.Fatal(err)
	}
	b, err = label.Batch(0)
	if err != nil {
		t.Fatal(err)
	}
	text, err = tok.Decode([]int{b.Target[0][0]})
	if err != nil {
		t.Fatal(err)
	}
	if text != "entailment" {
		t.Fatalf("label target decodes to %q, want entailment", text)
	}

	none, err := NewLoader(examples, tok, LoaderConfig{BatchSize: 3, SeqLen: 8})
	if err != nil {
		t.Fatal(err)
	}
	b, err = none.Batch(0)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range b.Target[0] {
		if id != -1 {
			t.Fatalf("TargetNone produced token targets: %v", b.Target[0])
		}
	}
}

func TestLoaderShuffleIsSeededAndOptional(t *testing.T) {
	examples := testExamples()
	tok := testTokenizer(examples)

	a, _ := NewLoader(examples, tok, LoaderConfig{BatchSize: 1, SeqLen: 8, Shuffle: true, Seed: 9})
	b, _ := NewLoader(examples, tok, LoaderConfig{BatchSize: 1, SeqLen: 8, Shuffle: true, Seed: 9})
	a.Shuffle()
	b.Shuffle()
	for i := 0; i < a.NumBatches(); i++ {
		ba, _ := a.Batch(i)
		bb, _ := b.Batch(i)
		if ba.Scores[0] != bb.Scores[0] {
			t.Fatal("same seed produced different epoch orders")
		}
	}

	fixed, _ := NewLoader(examples, tok, LoaderConfig{BatchSize: 1, SeqLen: 8, Shuffle: false, Seed: 9})
	fixed.Shuffle()
	first, _ := fixed.Batch(0)
	if first.Scores[0] != examples[0].Relatedness {
		t.Fatal("shuffle disabled but order changed")
	}
}

func TestNewLoaderValidation(t *testing.T) {
	examples := testExamples()
	tok := testTokenizer(examples)

	if _, err := NewLoader(nil, tok, LoaderConfig{BatchSize: 1, SeqLen: 4}); err == nil {
		t.Fatal("expected error for empty example set")
	}
	if _, err := NewLoader(examples, tok, LoaderConfig{BatchSize: 0, SeqLen: 4}); err == nil {
		t.Fatal("expected error for zero batch size")
	}
	bad := append([]Example(nil), examples...)
	bad[1].Entailment = "unknown"
	if _, err := NewLoader(bad, tok, LoaderConfig{BatchSize: 1, SeqLen: 4}); err == nil {
		t.Fatal("expected error for unknown entailment label")
	}
}
