package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerateMeshTask(t *testing.T) {
	seed := uint32(1234)
	task, err := NewGenerateMeshTask(GenerateMeshPayload{
		UserID:         "9f7c2a66-61a5-4b5e-8f51-2b8b51a1f0aa",
		AssetID:        "0e2d6a12-7f3e-4f2a-9af6-0d9b34a6b111",
		Seed:           &seed,
		NumSteps:       50,
		CfgScale:       7,
		GridRes:        384,
		SimplifyMesh:   true,
		TargetNumFaces: 100000,
	})
	require.NoError(t, err)
	assert.Equal(t, TypeGenerateMesh, task.Type())

	var decoded GenerateMeshPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, "0e2d6a12-7f3e-4f2a-9af6-0d9b34a6b111", decoded.AssetID)
	require.NotNil(t, decoded.Seed)
	assert.Equal(t, uint32(1234), *decoded.Seed)
	assert.Equal(t, 50, decoded.NumSteps)
}

func TestNilSeedStaysNil(t *testing.T) {
	task, err := NewGenerateMeshTask(GenerateMeshPayload{
		UserID:        "u",
		AssetID:       "a",
		RandomizeSeed: true,
	})
	require.NoError(t, err)

	var decoded GenerateMeshPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Nil(t, decoded.Seed)
	assert.True(t, decoded.RandomizeSeed)
}
