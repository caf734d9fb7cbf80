package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meshlift/backend/internal/config"
)

// ArtifactKind selects the storage namespace. Images and meshes live in
// physically separate directories so extensions never collide, and
// diagnostics stay out of both.
type ArtifactKind string

const (
	ArtifactImage      ArtifactKind = "images"
	ArtifactMesh       ArtifactKind = "meshes"
	ArtifactDiagnostic ArtifactKind = "diagnostics"
)

// StorageService stores artifact bytes on local disk under namespaced keys.
// Keys are timestamp+random so writes are append-only and collision-free; no
// locking is needed.
type StorageService struct {
	cfg *config.Config
}

func NewStorageService(cfg *config.Config) *StorageService {
	// ensure local path exists
	_ = os.MkdirAll(cfg.LocalAssetsPath, 0o755)
	return &StorageService{cfg: cfg}
}

// BuildKey creates a fresh namespaced storage key for an artifact.
func (s *StorageService) BuildKey(kind ArtifactKind, ext string) string {
	return fmt.Sprintf("%s/%d_%s%s", kind, time.Now().UnixNano(), randomSuffix(), ext)
}

// SaveBytes persists data under a new key in the given namespace and returns
// the key. The write goes through a .part file and a rename so a crash never
// leaves a half-written artifact at the final path.
func (s *StorageService) SaveBytes(kind ArtifactKind, ext string, data []byte) (string, error) {
	key := s.BuildKey(kind, ext)
	absPath := filepath.Join(s.cfg.LocalAssetsPath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", err
	}

	tmp := absPath + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return key, nil
}

// Load reads the bytes stored under key.
func (s *StorageService) Load(key string) ([]byte, error) {
	return os.ReadFile(s.AbsolutePath(key))
}

// Delete removes the artifact stored under key. Deleting a key that is
// already gone is not an error.
func (s *StorageService) Delete(key string) error {
	err := os.Remove(s.AbsolutePath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AbsolutePath resolves a storage key to its path on disk.
func (s *StorageService) AbsolutePath(key string) string {
	return filepath.Join(s.cfg.LocalAssetsPath, filepath.FromSlash(key))
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
