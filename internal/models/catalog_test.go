package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateDuration(t *testing.T) {
	// 2 + 0.5*4 + 0.2*10 = 6
	assert.Equal(t, "6 minutes", EstimateDuration(OperationContentPublish, 4, 10))
	// 1.5 + 0.5 + 0.2 = 2.2, rounds up
	assert.Equal(t, "3 minutes", EstimateDuration(OperationApprovalSubmit, 1, 1))
	// unknown types fall back to the default base
	assert.Equal(t, "3 minutes", EstimateDuration("mystery", 1, 1))
}

func TestTargetID(t *testing.T) {
	assert.Equal(t, "client-1", Target{ClientID: "client-1"}.ID())
	assert.Equal(t, "client-1/item-9", Target{ClientID: "client-1", ItemID: "item-9"}.ID())
}

func TestKnownOperationType(t *testing.T) {
	for _, info := range OperationCatalog() {
		assert.True(t, KnownOperationType(info.ID))
	}
	assert.False(t, KnownOperationType("bulk-frobnicate"))
}

func TestOperationStatusTerminal(t *testing.T) {
	assert.True(t, OperationCompleted.Terminal())
	assert.True(t, OperationCancelled.Terminal())
	assert.False(t, OperationFailed.Terminal())
	assert.False(t, OperationPaused.Terminal())
}
