// Package metacache persists the last-known tool list of each external
// server so a fresh process can serve catalog reads before the first
// tools/list refresh completes.
package metacache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"opmcpd/internal/domain"
)

var bucketTools = []byte("tools")

type Store struct {
	db *bolt.DB
}

// Open creates the cache file (and parent directory) if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTools)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutTools replaces the cached tool list for one server.
func (s *Store) PutTools(server string, tools []domain.ToolDefinition) error {
	payload, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("encode tools for %s: %w", server, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTools).Put([]byte(server), payload)
	})
}

// GetTools returns the cached tool list, or ok=false when the server
// has never been cached.
func (s *Store) GetTools(server string) ([]domain.ToolDefinition, bool, error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTools).Get([]byte(server))
		if raw != nil {
			payload = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if payload == nil {
		return nil, false, nil
	}
	var tools []domain.ToolDefinition
	if err := json.Unmarshal(payload, &tools); err != nil {
		return nil, false, fmt.Errorf("decode cached tools for %s: %w", server, err)
	}
	return tools, true, nil
}

// Delete drops the cached entry for a removed server.
func (s *Store) Delete(server string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTools).Delete([]byte(server))
	})
}

// Servers lists every cached server name.
func (s *Store) Servers() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTools).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}
