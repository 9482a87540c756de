// Package keychain provides the encrypted-at-rest key/value store used for
// tokens, the user snapshot and auth-state metadata.
//
// The store is deliberately forgiving at its boundary: Get reports absence for
// anything it cannot read or decrypt, because callers treat a missing value as
// "not authenticated", never as a crash.
package keychain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/savorly/partnerlink/internal/crypto"
	"github.com/savorly/partnerlink/pkg/logger"
)

// Well-known keys. Each is namespaced per app instance by the store.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUserSnapshot = "user_snapshot"
	KeyAuthMeta     = "auth_meta"
)

// Store is the secure session store contract.
//
// Get returns ("", false) for absent keys. Implementations must not surface
// decryption or IO failures through Get.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, bool)
	Delete(key string) error
}

const (
	keyFileName  = "keychain.key"
	dataFileName = "keychain.dat"
)

// FileStore persists values in a single SecretBox-encrypted JSON map on disk.
type FileStore struct {
	mu        sync.Mutex
	path      string
	namespace string
	secret    [32]byte
}

// NewFileStore opens (or creates) the encrypted store under dir. The namespace
// scopes keys to one app instance so reinstalls never read stale entries.
func NewFileStore(dir, namespace string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keychain dir: %w", err)
	}

	key, err := crypto.GetOrCreateKey(filepath.Join(dir, keyFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to load keychain key: %w", err)
	}

	s := &FileStore{
		path:      filepath.Join(dir, dataFileName),
		namespace: namespace,
	}
	copy(s.secret[:], key)
	return s, nil
}

func (s *FileStore) scoped(key string) string {
	return fmt.Sprintf("partnerlink:%s:%s", s.namespace, key)
}

// Set writes a value. The whole map is re-encrypted with a fresh nonce.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := s.loadLocked()
	values[s.scoped(key)] = value
	return s.saveLocked(values)
}

// Get reads a value. Absent, unreadable or undecryptable entries report
// ("", false).
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.loadLocked()[s.scoped(key)]
	return value, ok
}

// Delete removes a value. Deleting an absent key is a no-op.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := s.loadLocked()
	if _, ok := values[s.scoped(key)]; !ok {
		return nil
	}
	delete(values, s.scoped(key))
	return s.saveLocked(values)
}

func (s *FileStore) loadLocked() map[string]string {
	encrypted, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("keychain: read failed, treating as empty: %v", err)
		}
		return map[string]string{}
	}

	plaintext, err := crypto.Decrypt(encrypted, &s.secret)
	if err != nil {
		logger.Warnf("keychain: decrypt failed, treating as empty: %v", err)
		return map[string]string{}
	}

	values := map[string]string{}
	if err := json.Unmarshal(plaintext, &values); err != nil {
		logger.Warnf("keychain: corrupt store, treating as empty: %v", err)
		return map[string]string{}
	}
	return values
}

func (s *FileStore) saveLocked(values map[string]string) error {
	plaintext, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode keychain: %w", err)
	}

	encrypted, err := crypto.Encrypt(plaintext, &s.secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt keychain: %w", err)
	}

	if err := os.WriteFile(s.path, encrypted, 0600); err != nil {
		return fmt.Errorf("failed to write keychain: %w", err)
	}
	return nil
}

// MemoryStore is the best-effort fallback for platforms without a usable
// home directory. Also handy in tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Set stores a value in memory.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Get reads a value; absence is ("", false).
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

// Delete removes a value.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
