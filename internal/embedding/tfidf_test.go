package embedding

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

const eps = 1e-9

func TestTFIDF_FirstDocumentIsZero(t *testing.T) {
	m := NewTFIDF()
	vec := m.Embed(context.Background(), "the cat sat")
	if len(vec) != 3 {
		t.Fatalf("len = %d, want 3", len(vec))
	}
	// N=1 and df=1 for every term, so ln(N/df) = 0.
	if utils.L2Norm(vec) != 0 {
		t.Errorf("expected zero vector, got %v", vec)
	}
	if m.DocCount() != 1 {
		t.Errorf("DocCount = %d", m.DocCount())
	}
}

func TestTFIDF_MaxNormalizedTF(t *testing.T) {
	m := NewTFIDF()
	ctx := context.Background()
	m.Embed(ctx, "seed document placeholder")
	vec := m.Embed(ctx, "apple banana apple")
	if len(vec) != 5 {
		t.Fatalf("len = %d, want 5", len(vec))
	}
	// apple: tf 2/2 * ln 2, banana: tf 1/2 * ln 2, normalized.
	wantApple := 1 / math.Sqrt(1.25)
	wantBanana := 0.5 / math.Sqrt(1.25)
	if math.Abs(vec[3]-wantApple) > eps || math.Abs(vec[4]-wantBanana) > eps {
		t.Errorf("got %v, want apple=%v banana=%v", vec, wantApple, wantBanana)
	}
	for i := 0; i < 3; i++ {
		if vec[i] != 0 {
			t.Errorf("slot %d should be 0, got %v", i, vec[i])
		}
	}
}

func TestTFIDF_UnitNorm(t *testing.T) {
	m := NewTFIDF()
	ctx := context.Background()
	texts := []string{
		"rockets launch to orbit",
		"orbital mechanics of rockets",
		"gardening tips for spring tomatoes",
		"launch window calculations",
	}
	for i, text := range texts {
		vec := m.Embed(ctx, text)
		if i == 0 {
			continue
		}
		if n := utils.L2Norm(vec); math.Abs(n-1) > 1e-9 {
			t.Errorf("norm(%q) = %v, want 1", text, n)
		}
	}
}

func TestTFIDF_EmptyTextYieldsZeroVector(t *testing.T) {
	m := NewTFIDF()
	ctx := context.Background()
	m.Embed(ctx, "alpha beta gamma")
	vec := m.Embed(ctx, "a an to !!")
	if len(vec) != 3 {
		t.Errorf("len = %d, want vocabulary size 3", len(vec))
	}
	if utils.L2Norm(vec) != 0 {
		t.Errorf("expected zero vector, got %v", vec)
	}
	if m.DocCount() != 2 {
		t.Errorf("empty text should still count as a document, DocCount = %d", m.DocCount())
	}
}

func TestTFIDF_FirstSlotNeverWeighted(t *testing.T) {
	m := NewTFIDF()
	ctx := context.Background()
	m.Embed(ctx, "zebra")
	m.Embed(ctx, "lion")
	vec := m.Embed(ctx, "zebra tiger")
	if idx, _ := m.TermIndex("zebra"); idx != 0 {
		t.Fatalf("zebra index = %d", idx)
	}
	if vec[0] != 0 {
		t.Errorf("slot 0 = %v, want 0", vec[0])
	}
	if math.Abs(vec[2]-1) > eps {
		t.Errorf("tiger slot = %v, want 1", vec[2])
	}
}

func TestTFIDF_VocabularyIsAppendOnly(t *testing.T) {
	m := NewTFIDF()
	ctx := context.Background()
	first := m.Embed(ctx, "alpha beta")
	m.Embed(ctx, "gamma delta alpha")
	if len(first) != 2 {
		t.Errorf("stored vector must keep its length, got %d", len(first))
	}
	for term, want := range map[string]int{"alpha": 0, "beta": 1, "gamma": 2, "delta": 3} {
		if idx, ok := m.TermIndex(term); !ok || idx != want {
			t.Errorf("TermIndex(%q) = %d, %v; want %d", term, idx, ok, want)
		}
	}
	if m.DocumentFrequency("alpha") != 2 || m.DocumentFrequency("beta") != 1 {
		t.Errorf("df alpha=%d beta=%d", m.DocumentFrequency("alpha"), m.DocumentFrequency("beta"))
	}
}

func TestTFIDF_EmbedQueryDoesNotMutate(t *testing.T) {
	m := NewTFIDF()
	ctx := context.Background()
	m.Embed(ctx, "seed document placeholder")
	m.Embed(ctx, "apple banana cherry")
	before := m.State()
	rev := m.Revision()

	vec := m.EmbedQuery(ctx, "banana unknownterm")
	if m.DocCount() != before.DocCount || m.VocabularySize() != len(before.Vocabulary) || m.Revision() != rev {
		t.Error("EmbedQuery must not change the model")
	}
	if len(vec) != 6 {
		t.Errorf("len = %d", len(vec))
	}
	if math.Abs(vec[4]-1) > eps {
		t.Errorf("banana slot = %v, want 1", vec[4])
	}
}

func TestTFIDF_EmbedMutatesForQueries(t *testing.T) {
	m := NewTFIDF()
	ctx := context.Background()
	m.Embed(ctx, "apple banana")
	m.Embed(ctx, "apple query")
	if m.DocCount() != 2 || m.DocumentFrequency("apple") != 2 {
		t.Errorf("Embed should update statistics: N=%d df=%d", m.DocCount(), m.DocumentFrequency("apple"))
	}
}

func TestTFIDF_SaveLoad(t *testing.T) {
	m := NewTFIDF()
	ctx := context.Background()
	m.Embed(ctx, "seed document placeholder")
	want := m.Embed(ctx, "apple banana apple")

	path := filepath.Join(t.TempDir(), "model.json")
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded := NewTFIDF()
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.DocCount() != 2 || loaded.VocabularySize() != 5 {
		t.Fatalf("loaded N=%d vocab=%d", loaded.DocCount(), loaded.VocabularySize())
	}
	for term := range m.State().Vocabulary {
		a, _ := m.TermIndex(term)
		b, _ := loaded.TermIndex(term)
		if a != b {
			t.Errorf("index of %q changed: %d -> %d", term, a, b)
		}
	}
	got := loaded.EmbedQuery(ctx, "apple banana apple")
	if !vectorsClose(got, want) {
		t.Errorf("query after reload = %v, want %v", got, want)
	}
}

func TestTFIDF_LoadMissingFile(t *testing.T) {
	m := NewTFIDF()
	if err := m.Load(filepath.Join(t.TempDir(), "nope.json")); err != nil {
		t.Errorf("missing file should be ignored: %v", err)
	}
}

func TestTFIDF_RestoreRejectsBadState(t *testing.T) {
	tests := []struct {
		name string
		st   ModelState
	}{
		{"duplicate index", ModelState{Vocabulary: map[string]int{"abc": 0, "def": 0}, DocCount: 1}},
		{"index out of range", ModelState{Vocabulary: map[string]int{"abc": 3}, DocCount: 1}},
		{"df for unknown term", ModelState{Vocabulary: map[string]int{"abc": 0}, DocCount: 1, DocumentFrequency: map[string]int{"xyz": 1}}},
		{"df above N", ModelState{Vocabulary: map[string]int{"abc": 0}, DocCount: 1, DocumentFrequency: map[string]int{"abc": 2}}},
		{"negative N", ModelState{DocCount: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewTFIDF().Restore(tt.st); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTFIDF_Reset(t *testing.T) {
	m := NewTFIDF()
	m.Embed(context.Background(), "alpha beta")
	m.Reset()
	if m.DocCount() != 0 || m.VocabularySize() != 0 {
		t.Errorf("after Reset N=%d vocab=%d", m.DocCount(), m.VocabularySize())
	}
}

func vectorsClose(a, b models.Vector) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}
