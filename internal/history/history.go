// Package history retains sensor readings for the web charts. The sync core
// keeps no history of its own; this is a presentation-side consumer of
// snapshot events with its own retention.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"farm-go-remote/internal/model"
)

var bucketSensors = []byte("sensors")

// Reading is one retained sensor snapshot.
type Reading struct {
	Time     time.Time            `json:"time"`
	Snapshot model.SensorSnapshot `json:"snapshot"`
}

// Store is a BoltDB-backed sensor history.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the history database.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSensors)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores one snapshot keyed by its capture time.
func (s *Store) Record(at time.Time, snap model.SensorSnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSensors)
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return b.Put([]byte(at.UTC().Format(time.RFC3339Nano)), data)
	})
}

// Range returns all readings in [from, to], oldest first.
func (s *Store) Range(from, to time.Time) ([]Reading, error) {
	min := []byte(from.UTC().Format(time.RFC3339Nano))
	max := []byte(to.UTC().Format(time.RFC3339Nano))

	var out []Reading
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSensors).Cursor()
		for k, v := c.Seek(min); k != nil && string(k) <= string(max); k, v = c.Next() {
			t, err := time.Parse(time.RFC3339Nano, string(k))
			if err != nil {
				continue
			}
			var snap model.SensorSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				continue
			}
			out = append(out, Reading{Time: t, Snapshot: snap})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Prune deletes readings older than cutoff and reports how many were
// removed.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	max := []byte(cutoff.UTC().Format(time.RFC3339Nano))
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSensors).Cursor()
		for k, _ := c.First(); k != nil && string(k) < string(max); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
