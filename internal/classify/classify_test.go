package classify

import (
	"reflect"
	"testing"
)

func TestClassifyAnnotationWins(t *testing.T) {
	r := Classify(Input{
		Images:      []string{"myapp:latest"},
		Commands:    [][]string{{"train.py"}},
		Annotations: map[string]string{WorkloadTypeAnnotation: "job"},
	})
	if r.Type != Job || r.MatchedRule != RuleAnnotation {
		t.Errorf("got %+v, want job via RuleAnnotation", r)
	}
}

func TestClassifyAnnotationFunctionWithCommandBecomesEndpoint(t *testing.T) {
	r := Classify(Input{
		Images:      []string{"myapp:latest"},
		Commands:    [][]string{{"python", "app.py"}},
		Annotations: map[string]string{WorkloadTypeAnnotation: "function"},
	})
	if r.Type != Endpoint {
		t.Errorf("got %v, want endpoint (function annotation + command present)", r.Type)
	}
}

func TestClassifyAnnotationFunctionNoCommandStaysFunction(t *testing.T) {
	r := Classify(Input{
		Images:      []string{"myapp:latest"},
		Annotations: map[string]string{WorkloadTypeAnnotation: "function"},
	})
	if r.Type != Function {
		t.Errorf("got %v, want function (no command present)", r.Type)
	}
}

func TestClassifyFunctionToken(t *testing.T) {
	r := Classify(Input{
		Images:   []string{"myapp:latest"},
		Commands: [][]string{{"python", "serve.py"}},
	})
	if r.Type != Function || r.MatchedRule != RuleFunctionToken {
		t.Errorf("got %+v, want function via RuleFunctionToken", r)
	}
}

func TestClassifyJobToken(t *testing.T) {
	r := Classify(Input{
		Images:   []string{"myapp:latest"},
		Commands: [][]string{{"python", "train.py"}},
	})
	if r.Type != Job || r.MatchedRule != RuleJobToken {
		t.Errorf("got %+v, want job via RuleJobToken", r)
	}
}

func TestClassifyImageHint(t *testing.T) {
	r := Classify(Input{
		Images:   []string{"pytorch/torchserve:latest"},
		Commands: [][]string{{"start"}},
	})
	if r.Type != Function || r.MatchedRule != RuleImageHint {
		t.Errorf("got %+v, want function via RuleImageHint", r)
	}
}

func TestClassifyDefault(t *testing.T) {
	r := Classify(Input{
		Images:   []string{"busybox:latest"},
		Commands: [][]string{{"sleep", "3600"}},
	})
	if r.Type != Job || r.MatchedRule != RuleDefault {
		t.Errorf("got %+v, want job via RuleDefault", r)
	}
}

// TestClassifyOverlappingTokensFirstMatchWins reproduces the
// acknowledged overlapping-token case: "gunicorn serve run" contains
// both a function token ("serve") and a job token ("run"), and could
// be read as a job by a naive scanner. Rule ordering must still pick
// rule 2 (function tokens) before rule 3 (job tokens) when both match.
func TestClassifyOverlappingTokensFirstMatchWins(t *testing.T) {
	r := Classify(Input{
		Images:   []string{"myapp:latest"},
		Commands: [][]string{{"gunicorn", "serve", "run"}},
	})
	if r.Type != Function || r.MatchedRule != RuleFunctionToken {
		t.Errorf("got %+v, want function via RuleFunctionToken (first match wins)", r)
	}
	if len(r.OtherMatches) == 0 {
		t.Error("expected OtherMatches to record the overlapping job-token match")
	}
}

func TestClassifyDeterministic(t *testing.T) {
	in := Input{
		Images:   []string{"myapp:latest"},
		Commands: [][]string{{"python", "serve.py"}},
	}
	r1 := Classify(in)
	r2 := Classify(in)
	if !reflect.DeepEqual(r1, r2) {
		t.Errorf("classification not deterministic: %+v vs %+v", r1, r2)
	}
}
