package executors

import (
	"context"
	"reflect"
	"testing"

	"github.com/vaakshakti/pipeline/internal/models"
)

func TestLinguisticBasicStatistics(t *testing.T) {
	exec := NewLinguisticExecutor()
	out, err := exec.Execute(context.Background(), models.ComponentInput{
		Transcript: "I like traveling. Traveling is fun.",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := out.(*models.LinguisticResult)

	if res.WordCount != 6 {
		t.Errorf("WordCount = %d, want 6", res.WordCount)
	}
	if res.SentenceCount != 2 {
		t.Errorf("SentenceCount = %d, want 2", res.SentenceCount)
	}
	if res.AvgSentenceLength != 3 {
		t.Errorf("AvgSentenceLength = %v, want 3", res.AvgSentenceLength)
	}
	// Tokens: i, like, traveling, traveling, is, fun -> 5 unique of 6.
	if res.LexicalDiversity < 0.83 || res.LexicalDiversity > 0.84 {
		t.Errorf("LexicalDiversity = %v, want ~0.833", res.LexicalDiversity)
	}
	// "traveling" appears in both sentences, so there is measurable overlap.
	if res.CoherenceScore <= 0 {
		t.Errorf("CoherenceScore = %v, want > 0", res.CoherenceScore)
	}
}

func TestLinguisticSingleSentenceIsCoherent(t *testing.T) {
	exec := NewLinguisticExecutor()
	out, err := exec.Execute(context.Background(), models.ComponentInput{
		Transcript: "My favorite city is Pune",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := out.(*models.LinguisticResult)
	if res.CoherenceScore != 1.0 {
		t.Errorf("CoherenceScore = %v, want 1.0 for a single sentence", res.CoherenceScore)
	}
	if res.SentenceCount != 1 {
		t.Errorf("SentenceCount = %d, want 1", res.SentenceCount)
	}
}

func TestLinguisticEmptyTranscript(t *testing.T) {
	exec := NewLinguisticExecutor()
	out, err := exec.Execute(context.Background(), models.ComponentInput{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := out.(*models.LinguisticResult)
	if res.WordCount != 0 || res.FluencyScore != 0 {
		t.Errorf("Empty transcript should score zero: %+v", res)
	}
}

func TestLinguisticDeterministic(t *testing.T) {
	exec := NewLinguisticExecutor()
	in := models.ComponentInput{
		Transcript: "Last summer I traveled to the mountains with my family. We hiked every morning and the weather was perfect. I would love to go back next year.",
	}
	first, err := exec.Execute(context.Background(), in)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := exec.Execute(context.Background(), in)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Analysis is not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one! Third one? Trailing")
	if len(got) != 4 {
		t.Fatalf("Expected 4 sentences, got %d: %v", len(got), got)
	}
	if got[3] != "Trailing" {
		t.Errorf("Trailing fragment lost: %v", got)
	}
}
