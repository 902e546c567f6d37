package arch

import (
	"errors"
	"testing"
)

func TestParseModeAliases(t *testing.T) {
	cases := map[string]Mode{
		"similarity":                 ModeSimilarity,
		"similarity-regression":      ModeSimilarity,
		"mlp":                        ModeFeature,
		"feature-only-regression":    ModeFeature,
		"categoric":                  ModeCategorical,
		"categorical-classification": ModeCategorical,
		"gen":                        ModeGenerative,
		"categoric_gen":              ModeGenerativeClassification,
		"generative-classification":  ModeGenerativeClassification,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseModeUnknown(t *testing.T) {
	_, err := ParseMode("bogus")
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig, got %v", err)
	}
}

func TestNewPlanCategoricalClassCount(t *testing.T) {
	if _, err := NewPlan(ModeCategorical, 1); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("class count 1 should fail with ErrBadConfig, got %v", err)
	}

	plan, err := NewPlan(ModeCategorical, 3)
	if err != nil {
		t.Fatalf("class count 3 should succeed: %v", err)
	}
	if plan.Classes != 3 || plan.Loss != LossCrossEntropy || plan.Decode != DecodeArgmax {
		t.Fatalf("unexpected categorical plan: %+v", plan)
	}
}

func TestNewPlanUnknownMode(t *testing.T) {
	if _, err := NewPlan(Mode(200), 0); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig for unmapped mode, got %v", err)
	}
}

func TestMonitorSelection(t *testing.T) {
	// Classification modes monitor accuracy and maximize; everything else
	// monitors loss and minimizes.
	cases := []struct {
		mode    Mode
		classes int
		want    Monitor
	}{
		{ModeSimilarity, 0, Monitor{Metric: "val_loss", Maximize: false}},
		{ModeFeature, 0, Monitor{Metric: "val_loss", Maximize: false}},
		{ModeGenerative, 0, Monitor{Metric: "val_loss", Maximize: false}},
		{ModeCategorical, 3, Monitor{Metric: "val_acc", Maximize: true}},
		{ModeGenerativeClassification, 0, Monitor{Metric: "val_acc", Maximize: true}},
	}
	for _, tc := range cases {
		plan, err := NewPlan(tc.mode, tc.classes)
		if err != nil {
			t.Fatalf("NewPlan(%v): %v", tc.mode, err)
		}
		if plan.Monitor != tc.want {
			t.Errorf("mode %v monitor = %+v, want %+v", tc.mode, plan.Monitor, tc.want)
		}
	}
}

func TestVariantTableIsExhaustive(t *testing.T) {
	for m := Mode(0); m < modeCount; m++ {
		if _, ok := variants[m]; !ok {
			t.Errorf("variant table missing mode %s", m)
		}
	}
}

func TestGenerativePlans(t *testing.T) {
	gen, err := NewPlan(ModeGenerative, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !gen.Generative || gen.MaxGenTokens != 5 || gen.Decode != DecodeNumeric {
		t.Fatalf("unexpected generative plan: %+v", gen)
	}

	cls, err := NewPlan(ModeGenerativeClassification, 0)
	if err != nil {
		t.Fatal(err)
	}
	if cls.EvalLoss {
		t.Fatal("generative classification must not define an eval loss")
	}
	if cls.Decode != DecodeExactMatch {
		t.Fatalf("unexpected decode kind: %v", cls.Decode)
	}
}
