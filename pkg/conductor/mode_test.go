package conductor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomware/agentkit/pkg/conductor"
)

func TestClassifySimpleSingleToolExemption(t *testing.T) {
	c := conductor.HeuristicClassifier{}
	assert.Equal(t, conductor.IntentSimple, c.Classify("search for the capital of France"))
	assert.Equal(t, conductor.IntentSimple, c.Classify("what is 2+2"))
}

func TestClassifyComplexSequencing(t *testing.T) {
	c := conductor.HeuristicClassifier{}
	assert.Equal(t, conductor.IntentComplex, c.Classify("search for X and then email the results to Y"))
}

func TestClassifyComplexMultipleActionVerbs(t *testing.T) {
	c := conductor.HeuristicClassifier{}
	assert.Equal(t, conductor.IntentComplex, c.Classify("create a report and deploy it to the server"))
}

func TestClassifyApprovalAndRejection(t *testing.T) {
	c := conductor.HeuristicClassifier{}
	assert.Equal(t, conductor.IntentApproval, c.Classify("yes, go ahead"))
	assert.Equal(t, conductor.IntentRejection, c.Classify("no, that's wrong"))
}

func TestClassifyInterruptAndStatusQuery(t *testing.T) {
	c := conductor.HeuristicClassifier{}
	assert.Equal(t, conductor.IntentInterrupt, c.Classify("stop for a second"))
	assert.Equal(t, conductor.IntentStatusQuery, c.Classify("what's the status on this"))
}

func TestClassifyPlanModify(t *testing.T) {
	c := conductor.HeuristicClassifier{}
	assert.Equal(t, conductor.IntentPlanModify, c.Classify("please add a task to send the invoice"))
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := conductor.HeuristicClassifier{}
	utterance := "search for X and then email results to Y"
	first := c.Classify(utterance)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Classify(utterance))
	}
}
