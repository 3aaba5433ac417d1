package goal

import "testing"

func TestParseType(t *testing.T) {
	testCases := []struct {
		in          string
		want        Type
		expectError bool
	}{
		{in: "question", want: TypeQuestion},
		{in: " Request ", want: TypeRequest},
		{in: "OFFER", want: TypeOffer},
		{in: "suggestion", want: TypeSuggestion},
		{in: "statement", expectError: true},
		{in: "", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseType(tc.in)
			if tc.expectError {
				if err == nil {
					t.Errorf("Expected an error for %q, got type %q", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	testCases := map[string]Status{
		"confirm":    StatusConfirmed,
		"Contradict": StatusContradicted,
		"ignore":     StatusIgnored,
		"maybe":      StatusIgnored,
		"":           StatusIgnored,
	}
	for in, want := range testCases {
		if got := ParseCategory(in).Status(); got != want {
			t.Errorf("ParseCategory(%q).Status() = %q, want %q", in, got, want)
		}
	}
}

func TestKey(t *testing.T) {
	a := Key(TypeQuestion, "What's the   weather?")
	b := Key(TypeQuestion, "what's the weather")
	if a != b {
		t.Errorf("Expected equal keys, got %q and %q", a, b)
	}
	if Key(TypeRequest, "what's the weather") == a {
		t.Errorf("Keys of different types must differ")
	}
}

func TestCloneCopiesEvaluation(t *testing.T) {
	g := Goal{ID: "g1", Evaluation: &Evaluation{Category: CategoryConfirm, Examples: []string{"a"}}}
	c := g.Clone()
	c.Evaluation.Examples[0] = "b"
	c.Evaluation.Category = CategoryIgnore

	if g.Evaluation.Examples[0] != "a" || g.Evaluation.Category != CategoryConfirm {
		t.Errorf("Clone shares evaluation state with the original: %+v", g.Evaluation)
	}
}

func TestSettings(t *testing.T) {
	s := DefaultSettings()
	s.Set(StageMerge, false)
	if !s.Enabled(StageInfer) || s.Enabled(StageMerge) || !s.Enabled(StageEvaluate) {
		t.Errorf("Unexpected settings after disabling merge: %+v", s)
	}
	if _, ok := ParseStage("respond"); ok {
		t.Errorf("Expected unknown stage to be rejected")
	}
}
