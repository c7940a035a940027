package transcript

import (
	"testing"
)

func TestCorrectRealignsGlossaryTerms(t *testing.T) {
	c := NewCorrector([]string{"Grafana", "PostgreSQL", "Eldoria"})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "phonetic garbling",
			in:   "open the graffana dashboard",
			want: "open the Grafana dashboard",
		},
		{
			name: "spelling garbling",
			in:   "stored in postgress somewhere",
			want: "stored in PostgreSQL somewhere",
		},
		{
			name: "exact words untouched",
			in:   "plain words stay as they are",
			want: "plain words stay as they are",
		},
		{
			name: "correct term untouched",
			in:   "stored in PostgreSQL somewhere",
			want: "stored in PostgreSQL somewhere",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := c.Correct(tt.in)
			if got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCorrectMultiWordTerm(t *testing.T) {
	c := NewCorrector([]string{"shard manifest"})
	got, reps := c.Correct("check the shart manifest file")
	if got != "check the shard manifest file" {
		t.Fatalf("got %q", got)
	}
	if len(reps) != 1 {
		t.Fatalf("replacements = %v, want one spanning both words", reps)
	}
	if reps[0].Original != "shart manifest" || reps[0].Corrected != "shard manifest" {
		t.Errorf("replacement = %+v", reps[0])
	}
	if reps[0].Confidence <= 0 {
		t.Errorf("confidence = %v, want > 0", reps[0].Confidence)
	}
}

// TestCorrectPartialTermLeftAlone: a word resembling only part of a
// multi-word term must not be replaced by the whole term, and the words
// around a corrected span must survive.
func TestCorrectPartialTermLeftAlone(t *testing.T) {
	c := NewCorrector([]string{"shard manifest"})

	got, reps := c.Correct("the manifest says so")
	if got != "the manifest says so" || len(reps) != 0 {
		t.Errorf("partial match rewrote text: %q %v", got, reps)
	}

	got, reps = c.Correct("check the shart manifest file")
	if got != "check the shard manifest file" {
		t.Errorf("got %q, neighbors of the corrected span must survive", got)
	}
	if len(reps) != 1 {
		t.Errorf("replacements = %v, want exactly one", reps)
	}
}

func TestCorrectPreservesPunctuation(t *testing.T) {
	c := NewCorrector([]string{"Grafana"})
	got, _ := c.Correct("is it in graffana?")
	if got != "is it in Grafana?" {
		t.Fatalf("got %q", got)
	}
}

func TestCorrectEmptyGlossaryIsIdentity(t *testing.T) {
	c := NewCorrector(nil)
	in := "anything at all"
	got, reps := c.Correct(in)
	if got != in || reps != nil {
		t.Fatalf("got %q, %v", got, reps)
	}
}

func TestCorrectRespectsThresholds(t *testing.T) {
	strict := NewCorrector([]string{"Grafana"}, WithPhoneticThreshold(0.99), WithFuzzyThreshold(0.99))
	got, reps := strict.Correct("maybe grafonix knows")
	if got != "maybe grafonix knows" || len(reps) != 0 {
		t.Fatalf("strict corrector rewrote anyway: %q %v", got, reps)
	}

	lenient := NewCorrector([]string{"Grafana"})
	got, _ = lenient.Correct("maybe grafonix knows")
	if got != "maybe Grafana knows" {
		t.Fatalf("lenient corrector: got %q", got)
	}
}
