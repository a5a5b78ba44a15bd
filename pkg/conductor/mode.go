// Package conductor implements the mode state machine that sits above the
// agentic loop: it decides whether a user turn is answered directly, turned
// into a multi-task plan awaiting approval, or routed into plan execution,
// and it exposes the fixed set of meta-tools the model uses to request
// those transitions. Grounded on pkg/task's state-machine shape (State,
// IsTerminal, a Status wrapper) and pkg/agent/llmagent/flow.go's
// iteration-driven control flow, generalized to the conductor's own
// interactive/planning/executing states.
package conductor

import (
	"regexp"
	"strings"
)

// Mode is the conductor's current state.
type Mode string

const (
	ModeInteractive     Mode = "interactive"
	ModePlanning        Mode = "planning"
	ModeExecuting       Mode = "executing"
	ModeExecutingPaused Mode = "executing_paused"
)

// Intent is the deterministic classification of one raw user utterance.
type Intent string

const (
	IntentSimple      Intent = "simple"
	IntentComplex     Intent = "complex"
	IntentApproval    Intent = "approval"
	IntentRejection   Intent = "rejection"
	IntentInterrupt   Intent = "interrupt"
	IntentStatusQuery Intent = "status_query"
	IntentPlanModify  Intent = "plan_modify"
	IntentFeedback    Intent = "feedback"
)

// Classifier turns a raw utterance into an Intent. The classifier is a
// pluggable predicate: its exact thresholds are implementation-tunable, but
// the taxonomy it returns is fixed.
type Classifier interface {
	Classify(utterance string) Intent
}

// singleToolVerbs are the verbs of common one-shot requests: an utterance
// of at most 12 words that starts with one of them is classified
// IntentSimple, unless it carries a sequencing marker or two or more
// action verbs (those strong complexity signals are checked first).
var singleToolVerbs = []string{
	"search", "fetch", "lookup", "look up", "summarize", "summarise",
	"find", "get", "show", "list", "define", "translate", "convert",
}

var sequencingMarkers = []string{
	"then", "after that", "afterwards", "once done", "followed by", "next,",
}

var actionVerbPattern = regexp.MustCompile(`\b(search|fetch|email|send|create|write|build|deploy|run|execute|update|delete|schedule|compile|analyze|analyse|generate|summarize|summarise|translate|upload|download|install|configure|refactor|migrate)\b`)

var approvalPhrases = []string{
	"yes", "yep", "yeah", "sure", "approve", "approved", "go ahead", "looks good",
	"sounds good", "confirm", "confirmed", "ok go", "do it", "proceed",
}

var rejectionPhrases = []string{
	"no", "nope", "reject", "rejected", "don't do that", "do not do that",
	"cancel that", "that's wrong", "not right", "disagree",
}

var interruptPhrases = []string{
	"stop", "pause", "wait", "hold on", "hold up", "halt",
}

var statusQueryPhrases = []string{
	"status", "progress", "how far", "how's it going", "what's done", "what is done",
	"are you done", "still working",
}

var planModifyPhrases = []string{
	"add a task", "add task", "remove task", "remove the task", "skip task",
	"skip the task", "change the plan", "modify the plan", "update the plan",
	"add a step", "remove a step",
}

// HeuristicClassifier is the default rule-based Classifier: cheap substring
// and regex checks over the lower-cased utterance, in a fixed priority
// order (interrupt, status, plan-modify, rejection and approval checks run
// in that order before the simple/complex split, since those carry a
// narrower, more specific vocabulary).
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(utterance string) Intent {
	s := strings.ToLower(strings.TrimSpace(utterance))
	if s == "" {
		return IntentSimple
	}

	if containsAny(s, interruptPhrases) {
		return IntentInterrupt
	}
	if containsAny(s, statusQueryPhrases) {
		return IntentStatusQuery
	}
	if containsAny(s, planModifyPhrases) {
		return IntentPlanModify
	}
	if containsAny(s, rejectionPhrases) {
		return IntentRejection
	}
	if containsAny(s, approvalPhrases) {
		return IntentApproval
	}

	// Sequencing markers and multiple distinct action verbs are definite
	// complexity signals that override the single-tool exemption: "search
	// X and then email Y" is complex even though it starts with an
	// exempt verb.
	if hasStrongComplexitySignal(s) {
		return IntentComplex
	}
	if isSingleToolExempt(s) {
		return IntentSimple
	}
	if isLong(s) {
		return IntentComplex
	}
	return IntentSimple
}

// containsAny reports whether s contains any of phrases. Multi-word
// phrases are matched as plain substrings; single-word phrases are matched
// at word boundaries so short words like "no" or "stop" don't fire inside
// unrelated words ("desktop", "nothing").
func containsAny(s string, phrases []string) bool {
	words := strings.Fields(s)
	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[strings.Trim(w, ".,!?;:")] = true
	}

	for _, p := range phrases {
		if strings.Contains(p, " ") {
			if strings.Contains(s, p) {
				return true
			}
			continue
		}
		if wordSet[p] {
			return true
		}
	}
	return false
}

func isSingleToolExempt(s string) bool {
	words := strings.Fields(s)
	if len(words) > 12 {
		// Too long to trust as a single-shot lookup even if it starts
		// with an exempt verb.
		return false
	}
	for _, v := range singleToolVerbs {
		if strings.HasPrefix(s, v+" ") || s == v {
			return true
		}
	}
	return false
}

func hasStrongComplexitySignal(s string) bool {
	if containsAny(s, sequencingMarkers) {
		return true
	}
	return len(actionVerbPattern.FindAllString(s, -1)) >= 2
}

func isLong(s string) bool {
	return len(strings.Fields(s)) > 40
}
