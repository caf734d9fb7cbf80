package services

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadDeleteRoundTrip(t *testing.T) {
	storage := NewStorageService(newTestConfig(t))
	data := []byte("artifact payload")

	key, err := storage.SaveBytes(ArtifactImage, ".png", data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "images/"))
	assert.True(t, strings.HasSuffix(key, ".png"))

	got, err := storage.Load(key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, storage.Delete(key))
	_, err = storage.Load(key)
	assert.Error(t, err)

	// Deleting again is fine.
	assert.NoError(t, storage.Delete(key))
}

func TestKeysAreNamespacedAndUnique(t *testing.T) {
	storage := NewStorageService(newTestConfig(t))

	k1, err := storage.SaveBytes(ArtifactMesh, ".glb", []byte("a"))
	require.NoError(t, err)
	k2, err := storage.SaveBytes(ArtifactMesh, ".glb", []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "meshes/"))
}

func TestNoPartialFilesLeftBehind(t *testing.T) {
	cfg := newTestConfig(t)
	storage := NewStorageService(cfg)

	_, err := storage.SaveBytes(ArtifactDiagnostic, ".json", []byte(`{"k":"v"}`))
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.LocalAssetsPath + "/diagnostics")
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".part"))
	}
}

func TestKindOfKey(t *testing.T) {
	assert.Equal(t, ArtifactImage, kindOfKey("images/1_ab.png"))
	assert.Equal(t, ArtifactMesh, kindOfKey("meshes/1_ab.glb"))
	assert.Equal(t, ArtifactDiagnostic, kindOfKey("diagnostics/1_ab.json"))
	assert.Equal(t, ArtifactImage, kindOfKey("unprefixed.bin"))
}
