// Package classify implements the workload classifier: deciding
// whether a pod becomes a batch job, a function, or an HTTP endpoint
// on the remote backend from its image/command hints and annotations.
package classify

import "strings"

// WorkloadType is one of job, function, endpoint. Immutable once
// assigned to a pod/CR.
type WorkloadType string

const (
	Job      WorkloadType = "job"
	Function WorkloadType = "function"
	Endpoint WorkloadType = "endpoint"
)

// WorkloadTypeAnnotation is the annotation that, when present with a
// value of "job" or "function", takes precedence over every
// heuristic rule.
const WorkloadTypeAnnotation = "modal-operator.io/workload-type"

var functionTokens = []string{"serve", "server", "api", "8080", "5000"}
var jobTokens = []string{"train", "batch", "process", "run"}

// Input is the minimal shape of capsule + annotations the classifier
// needs.
type Input struct {
	Images      []string
	Commands    [][]string
	Args        [][]string
	Annotations map[string]string
}

// Rule identifies which of the five ordered rules fired, for logging.
type Rule int

const (
	RuleAnnotation Rule = iota + 1
	RuleFunctionToken
	RuleJobToken
	RuleImageHint
	RuleDefault
)

// Result is the classifier's decision plus which rule produced it,
// and whether more than one rule's condition matched (informational
// only — the first match always wins, per the ordering rule).
type Result struct {
	Type          WorkloadType
	MatchedRule   Rule
	OtherMatches  []Rule
	HasCommand    bool
}

// Classify applies the five ordered rules (first match wins) and
// returns the workload type plus which rule fired. Rule ordering is
// never changed and overlapping tokens across rules 2/3 are not
// deduplicated — only the first matching rule's outcome is used.
func Classify(in Input) Result {
	joined := strings.ToLower(joinCommandsAndArgs(in.Commands, in.Args))
	image := strings.ToLower(joinStrings(in.Images))

	var other []Rule

	if v, ok := in.Annotations[WorkloadTypeAnnotation]; ok {
		switch v {
		case string(Job):
			return Result{Type: Job, MatchedRule: RuleAnnotation, HasCommand: hasCommand(in.Commands)}
		case string(Function):
			t := Function
			if hasCommand(in.Commands) {
				t = Endpoint
			}
			return Result{Type: t, MatchedRule: RuleAnnotation, HasCommand: hasCommand(in.Commands)}
		}
	}

	matchesFunctionToken := containsAny(joined, functionTokens)
	matchesJobToken := containsAny(joined, jobTokens)
	matchesImageHint := strings.Contains(image, "torchserve") || strings.Contains(image, "api")

	if matchesFunctionToken {
		if matchesJobToken {
			other = append(other, RuleJobToken)
		}
		if matchesImageHint {
			other = append(other, RuleImageHint)
		}
		return result(Function, RuleFunctionToken, other, in.Commands)
	}

	if matchesJobToken {
		if matchesImageHint {
			other = append(other, RuleImageHint)
		}
		return result(Job, RuleJobToken, other, in.Commands)
	}

	if matchesImageHint {
		return result(Function, RuleImageHint, other, in.Commands)
	}

	return result(Job, RuleDefault, other, in.Commands)
}

func result(t WorkloadType, rule Rule, other []Rule, commands [][]string) Result {
	return Result{Type: t, MatchedRule: rule, OtherMatches: other, HasCommand: hasCommand(commands)}
}

func hasCommand(commands [][]string) bool {
	for _, c := range commands {
		if len(c) > 0 {
			return true
		}
	}
	return false
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func joinCommandsAndArgs(commands, args [][]string) string {
	var b strings.Builder
	for _, c := range commands {
		b.WriteString(strings.Join(c, " "))
		b.WriteString(" ")
	}
	for _, a := range args {
		b.WriteString(strings.Join(a, " "))
		b.WriteString(" ")
	}
	return b.String()
}

func joinStrings(ss []string) string {
	return strings.Join(ss, " ")
}
