package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationTargetRoundTrip(t *testing.T) {
	op := &Operation{}
	targets := []Target{
		{ClientID: "client-a", ItemID: "item-1"},
		{ClientID: "client-b"},
	}

	require.NoError(t, op.SetTargets(targets))
	assert.Equal(t, targets, op.TargetList())
	assert.Equal(t, []string{"client-a", "client-b"}, op.ClientsAffected())
}

func TestOperationParameterRoundTrip(t *testing.T) {
	op := &Operation{}

	require.NoError(t, op.SetParameters(nil))
	assert.Equal(t, Parameters{}, op.ParameterMap())

	require.NoError(t, op.SetParameters(Parameters{"platforms": "twitter"}))
	assert.Equal(t, "twitter", op.ParameterMap()["platforms"])

	// funcs are not JSON-encodable; the stored payload must stay intact
	err := op.SetParameters(Parameters{"bad": func() {}})
	require.Error(t, err)
	assert.Equal(t, "twitter", op.ParameterMap()["platforms"])
}
