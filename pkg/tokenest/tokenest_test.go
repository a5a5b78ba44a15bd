package tokenest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateText(t *testing.T) {
	est, err := New("gpt-4")
	require.NoError(t, err)

	assert.Equal(t, 0, est.EstimateText(""))
	assert.Greater(t, est.EstimateText("hello world, this is a longer sentence"), 0)
}

func TestEstimateStructured(t *testing.T) {
	est, err := New("gpt-4")
	require.NoError(t, err)

	small := est.EstimateStructured(map[string]any{"a": 1})
	large := est.EstimateStructured(map[string]any{
		"a": 1, "b": "a much longer string value here", "c": []any{1, 2, 3, 4, 5},
	})
	assert.Greater(t, large, small)
}

func TestEstimateImage(t *testing.T) {
	est, err := New("gpt-4")
	require.NoError(t, err)

	assert.Equal(t, imageTileTokens, est.EstimateImage(ImageRef{URL: "https://example.com/x.png"}))
}

func TestNewCachesPerModel(t *testing.T) {
	a, err := New("gpt-4o")
	require.NoError(t, err)
	b, err := New("gpt-4o")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestUnknownModelFallsBack(t *testing.T) {
	est, err := New("some-future-model-xyz")
	require.NoError(t, err)
	// Falls back to cl100k_base inside utils.NewTokenCounter rather than erroring.
	assert.Greater(t, est.EstimateText("fallback still counts tokens"), 0)
}
