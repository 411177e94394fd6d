package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/oauth2"

	"github.com/anishahaha07/myfi-scanner/internal/extract"
)

const (
	stateBucket = "state"

	resultKey = "scan_result"
	tokenKey  = "auth_token"
	errorKey  = "error"
)

// ErrNoResult is returned when no scan has completed yet.
var ErrNoResult = errors.New("no scan result stored")

// ScanResult is the aggregate persisted state: the full record list and
// the scan timestamp, replaced wholesale by every scan. Error carries a
// batch-level failure; its record list is then empty, never partial.
type ScanResult struct {
	Records   []extract.Receipt `json:"records"`
	ScannedAt time.Time         `json:"scanned_at"`
	Error     string            `json:"error,omitempty"`
}

// Store is the key-value persistence collaborator: the derived record
// list, the cached credential, and a standalone error flag.
type Store interface {
	SaveResult(result *ScanResult) error
	LoadResult() (*ScanResult, error)

	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
	DeleteToken() error

	SetErrorFlag(msg string) error
	ErrorFlag() (string, error)

	Close() error
}

// BoltStore implements Store on a single bbolt bucket with JSON values.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(stateBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// SaveResult overwrites the persisted scan result in one write, so
// readers never observe a torn record list.
func (s *BoltStore) SaveResult(result *ScanResult) error {
	return s.putJSON(resultKey, result)
}

// LoadResult returns the last persisted scan result.
func (s *BoltStore) LoadResult() (*ScanResult, error) {
	var result ScanResult
	if err := s.getJSON(resultKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SaveToken persists the cached credential.
func (s *BoltStore) SaveToken(token *oauth2.Token) error {
	return s.putJSON(tokenKey, token)
}

// LoadToken returns the cached credential, or ErrNoResult when none is
// stored.
func (s *BoltStore) LoadToken() (*oauth2.Token, error) {
	var token oauth2.Token
	if err := s.getJSON(tokenKey, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// DeleteToken discards the cached credential.
func (s *BoltStore) DeleteToken() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(stateBucket)).Delete([]byte(tokenKey))
	})
}

// SetErrorFlag records (or clears, with an empty string) the standalone
// user-facing error state.
func (s *BoltStore) SetErrorFlag(msg string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		if msg == "" {
			return bucket.Delete([]byte(errorKey))
		}
		return bucket.Put([]byte(errorKey), []byte(msg))
	})
}

// ErrorFlag returns the standalone error state, empty when none.
func (s *BoltStore) ErrorFlag() (string, error) {
	var msg string
	err := s.db.View(func(tx *bbolt.Tx) error {
		msg = string(tx.Bucket([]byte(stateBucket)).Get([]byte(errorKey)))
		return nil
	})
	return msg, err
}

func (s *BoltStore) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(stateBucket)).Put([]byte(key), data)
	})
}

func (s *BoltStore) getJSON(key string, v any) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(stateBucket)).Get([]byte(key))
		if data == nil {
			return ErrNoResult
		}
		return json.Unmarshal(data, v)
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
