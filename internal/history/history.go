// Package history keeps a log of finished print jobs in a single file
// bbolt database, one cbor encoded Entry per job.
package history

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	connectTimeout = 5 * time.Second
	bucketName     = "jobs"
)

var ErrMissingBucket = errors.New("history: jobs bucket is missing")

// Entry describes one finished job
type Entry struct {
	Seq      uint64        `cbor:"-"`
	ID       uuid.UUID     `cbor:"1,keyasint"`
	Model    string        `cbor:"2,keyasint"`
	Label    string        `cbor:"3,keyasint,omitempty"`
	Width    uint16        `cbor:"4,keyasint"`
	Height   uint16        `cbor:"5,keyasint"`
	Quantity uint16        `cbor:"6,keyasint"`
	Result   string        `cbor:"7,keyasint"`
	State    string        `cbor:"8,keyasint"`
	Error    string        `cbor:"9,keyasint,omitempty"`
	Started  time.Time     `cbor:"10,keyasint"`
	Duration time.Duration `cbor:"11,keyasint"`
}

// Succeeded reports whether the job printed
func (e Entry) Succeeded() bool {
	return e.Result == "ok"
}

// Store persists entries. The database is opened per operation so the
// file is not held locked while idle.
type Store struct {
	dbpath string
	// Keep bounds the number of entries; 0 keeps everything
	Keep int
	log  *zap.Logger
}

// Open prepares the database at dbpath
func Open(dbpath string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(dbpath), 0o755); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	s := &Store{dbpath: dbpath, log: log}
	err := s.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("history: failed db initialization: %w", err)
	}
	return s, nil
}

func (s *Store) open() (*bolt.DB, error) {
	db, err := bolt.Open(s.dbpath, 0o600, &bolt.Options{Timeout: connectTimeout})
	if err != nil {
		return nil, fmt.Errorf("history: failed connecting to database: %w", err)
	}
	return db, nil
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func bucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(bucketName))
	if b == nil {
		return nil, ErrMissingBucket
	}
	return b, nil
}

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

// Record appends e and returns its sequence number
func (s *Store) Record(e Entry) (uint64, error) {
	data, err := cbor.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("history: failed cbor.Marshal(entry): %w", err)
	}

	var seq uint64
	err = s.update(func(tx *bolt.Tx) error {
		b, err := bucket(tx)
		if err != nil {
			return err
		}
		if seq, err = b.NextSequence(); err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
		return s.prune(b)
	})
	if err != nil {
		return 0, fmt.Errorf("history: failed recording job %s: %w", e.ID, err)
	}
	s.log.Debug("history: recorded", zap.Stringer("id", e.ID), zap.Uint64("seq", seq), zap.String("result", e.Result))
	return seq, nil
}

// prune drops the oldest entries beyond Keep
func (s *Store) prune(b *bolt.Bucket) error {
	if s.Keep <= 0 {
		return nil
	}
	excess := keyCount(b) - s.Keep
	var stale [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func keyCount(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

// List returns up to limit entries, newest first; limit <= 0 lists all
func (s *Store) List(limit int) ([]Entry, error) {
	var out []Entry
	err := s.view(func(tx *bolt.Tx) error {
		b, err := bucket(tx)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var e Entry
			if err := cbor.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed unmarshaling entry %x: %w", k, err)
			}
			e.Seq = binary.BigEndian.Uint64(k)
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return out, nil
}

// Count returns the number of stored entries
func (s *Store) Count() (int, error) {
	n := 0
	err := s.view(func(tx *bolt.Tx) error {
		b, err := bucket(tx)
		if err != nil {
			return err
		}
		n = keyCount(b)
		return nil
	})
	return n, err
}

// Clear removes every entry
func (s *Store) Clear() error {
	return s.update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}
