package oracle

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var seedBucket = []byte("seeds")

// SeedRecord is a server seed and the request it answers.
type SeedRecord struct {
	Handle     string `json:"handle"`
	Round      uint64 `json:"round"`
	Seed       string `json:"seed"`
	Commitment string `json:"commitment"`
	Revealed   bool   `json:"revealed"`
}

// SeedStore keeps beacon seeds in a bbolt file so a restarted beacon can
// still fulfil requests it committed to.
type SeedStore struct {
	db *bolt.DB
}

func OpenSeedStore(path string) (*SeedStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open seed store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(seedBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create seed bucket: %w", err)
	}
	return &SeedStore{db: db}, nil
}

func (s *SeedStore) Close() error {
	return s.db.Close()
}

// Put stores a new record. Handles are never reused.
func (s *SeedStore) Put(rec SeedRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal seed record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(seedBucket)
		if b.Get([]byte(rec.Handle)) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateRequest, rec.Handle)
		}
		return b.Put([]byte(rec.Handle), val)
	})
}

func (s *SeedStore) Get(handle string) (SeedRecord, error) {
	var rec SeedRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(seedBucket).Get([]byte(handle))
		if val == nil {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, handle)
		}
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func (s *SeedStore) MarkRevealed(handle string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(seedBucket)
		val := b.Get([]byte(handle))
		if val == nil {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, handle)
		}
		var rec SeedRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		rec.Revealed = true
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(handle), out)
	})
}

// Unrevealed returns records created before round that have not been revealed.
func (s *SeedStore) Unrevealed(round uint64) ([]SeedRecord, error) {
	var out []SeedRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(seedBucket).ForEach(func(_, val []byte) error {
			var rec SeedRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			if !rec.Revealed && rec.Round < round {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}
