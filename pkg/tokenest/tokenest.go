// Package tokenest estimates token counts for conversational content before
// it is sent to a model, so the context manager can budget for it without an
// actual API round-trip.
//
// Estimates are deliberately conservative: overestimating by a few percent
// wastes a little context window; underestimating risks the provider
// rejecting the request outright. The BPE path (via tiktoken) is exact for
// models it recognizes; the char/4 fallback is the same heuristic the
// teacher's token counter has always used for unknown models.
package tokenest

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/loomware/agentkit/pkg/utils"
)

// charsPerTokenFallback approximates English prose when no BPE encoding is
// available for the model. Matches utils.EstimateTokens.
const charsPerTokenFallback = 4

// imageTileTokens approximates the token cost of a single image reference,
// independent of pixel dimensions (most providers charge a flat-ish rate per
// image tile once resized to their internal limit). Callers that have exact
// provider pricing should not use this and should account for usage directly
// from the provider's response instead.
const imageTileTokens = 765

// Estimator estimates token counts for a specific model, backed by a cached
// tiktoken encoding when one is known for the model, falling back to the
// char/4 heuristic otherwise.
type Estimator struct {
	model   string
	counter *utils.TokenCounter
}

var (
	estimatorCache = make(map[string]*Estimator)
	estimatorMu    sync.RWMutex
)

// New returns an Estimator for model, reusing a cached tiktoken encoding
// across calls for the same model.
func New(model string) (*Estimator, error) {
	estimatorMu.RLock()
	cached, ok := estimatorCache[model]
	estimatorMu.RUnlock()
	if ok {
		return cached, nil
	}

	counter, err := utils.NewTokenCounter(model)
	if err != nil {
		return nil, fmt.Errorf("tokenest: build counter for %q: %w", model, err)
	}
	est := &Estimator{model: model, counter: counter}

	estimatorMu.Lock()
	estimatorCache[model] = est
	estimatorMu.Unlock()

	return est, nil
}

// Model returns the model this estimator was built for.
func (e *Estimator) Model() string {
	return e.model
}

// EstimateText returns the token count for a plain text string.
func (e *Estimator) EstimateText(text string) int {
	if e == nil || e.counter == nil {
		return len(text) / charsPerTokenFallback
	}
	return e.counter.Count(text)
}

// EstimateStructured returns the token count for arbitrary structured data
// (tool arguments, tool results, JSON payloads) by estimating over its
// string rendering. Structured data is first flattened into a single string
// via a traversal that serializes map[string]any values to their canonical
// (sorted-key) JSON form, so the estimate is deterministic across calls with
// the same input regardless of map iteration order.
func (e *Estimator) EstimateStructured(data any) int {
	return e.EstimateText(flatten(data))
}

// EstimateImage returns the token cost of a single image reference. Most
// providers charge a near-flat per-image cost once the image is resized to
// fit their internal tiling limit, so this does not attempt pixel-accurate
// accounting — callers needing exact provider costs should use the usage
// figures returned by the actual API call instead.
func (e *Estimator) EstimateImage(_ ImageRef) int {
	return imageTileTokens
}

// ImageRef describes an image part for estimation purposes. EstimateImage
// charges the same flat per-image cost whatever Width and Height hold.
type ImageRef struct {
	URL    string
	Width  int
	Height int
}

// flatten renders data into a single string for estimation. Maps are rendered
// as their JSON encoding, with a sorted key:value traversal when marshaling
// fails; slices are rendered element by element and other values with %v.
func flatten(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		// encoding/json always emits object keys in sorted order, so
		// marshaling here gives the same canonical form regardless of
		// map[string]any's randomized iteration order.
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s := ""
		for _, k := range keys {
			s += k + ":" + flatten(v[k]) + " "
		}
		return s
	case []any:
		s := ""
		for _, val := range v {
			s += flatten(val) + " "
		}
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

// CountMessages delegates to the underlying per-model counter, including the
// teacher's per-message role/format overhead.
func (e *Estimator) CountMessages(messages []utils.Message) int {
	if e == nil || e.counter == nil {
		total := 0
		for _, m := range messages {
			total += len(m.Content) / charsPerTokenFallback
		}
		return total
	}
	return e.counter.CountMessages(messages)
}
