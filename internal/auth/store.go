package auth

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var (
	sessionBucket = []byte("session")
	sessionKey    = []byte("current")
)

// SessionStore persists the client session between runs.
type SessionStore interface {
	Load() (*Session, error)
	Save(s *Session) error
	Clear() error
	Close() error
}

type boltSessionStore struct {
	db *bolt.DB
}

// OpenSessionStore opens (creating when needed) a bolt file holding the session.
func OpenSessionStore(path string) (SessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session bucket: %w", err)
	}
	return &boltSessionStore{db: db}, nil
}

// Load returns nil without error when no session is stored.
func (b *boltSessionStore) Load() (*Session, error) {
	var s *Session
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get(sessionKey)
		if v == nil {
			return nil
		}
		var decoded Session
		if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&decoded); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		s = &decoded
		return nil
	})
	return s, err
}

func (b *boltSessionStore) Save(s *Session) error {
	if s == nil {
		return b.Clear()
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		var val bytes.Buffer
		if err := gob.NewEncoder(&val).Encode(s); err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		return tx.Bucket(sessionBucket).Put(sessionKey, val.Bytes())
	})
}

func (b *boltSessionStore) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(sessionKey)
	})
}

func (b *boltSessionStore) Close() error {
	return b.db.Close()
}
