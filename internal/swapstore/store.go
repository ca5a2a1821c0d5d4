// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package swapstore

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/harvy-btc/harvy/bitcoin"
	"github.com/harvy-btc/harvy/bitcoin/txbuilder"
)

// ErrNotFound defines that no record exists for the given key.
var ErrNotFound = errors.New("swap record not found")

// Status enumerates the lifecycle of a built swap.
type Status string

const (
	// StatusBuilt defines a swap constructed and returned to the seller.
	StatusBuilt Status = "built"
	// StatusBroadcast defines a swap accepted by the network.
	StatusBroadcast Status = "broadcast"
	// StatusRejected defines a swap the network refused.
	StatusRejected Status = "rejected"
)

var swapsBucket = []byte("swaps")

// Record is the audit entry for one built swap, keyed by the unsigned
// transaction id so the record survives the seller adding signatures.
type Record struct {
	Key           string                   `json:"key"`
	SellerAddress string                   `json:"sellerAddress"`
	Status        Status                   `json:"status"`
	TxID          string                   `json:"txId,omitempty"`
	Error         string                   `json:"error,omitempty"`
	Amounts       txbuilder.Amounts        `json:"amounts"`
	Expected      []bitcoin.ExpectedOutput `json:"expected"`
	CreatedAt     time.Time                `json:"createdAt"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

// Store persists swap audit records in an embedded bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file and ensures buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(swapsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a freshly built swap record.
func (s *Store) Put(record Record) error {
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	if record.Status == "" {
		record.Status = StatusBuilt
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}

		return tx.Bucket(swapsBucket).Put([]byte(record.Key), data)
	})
}

// Get returns the record for the given key.
func (s *Store) Get(key string) (Record, error) {
	var record Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(swapsBucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}

		return json.Unmarshal(data, &record)
	})

	return record, err
}

// SetStatus updates the lifecycle state of a record after a broadcast attempt.
func (s *Store) SetStatus(key string, status Status, txID, errText string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(swapsBucket)
		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}

		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}

		record.Status = status
		record.TxID = txID
		record.Error = errText
		record.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(record)
		if err != nil {
			return err
		}

		return bucket.Put([]byte(key), updated)
	})
}

// List returns every stored record, newest first.
func (s *Store) List() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(swapsBucket).ForEach(func(_, data []byte) error {
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}

			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}
