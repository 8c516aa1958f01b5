package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	cachesBucket = []byte("caches")
	metaBucket   = []byte("metadata")
)

// ErrNotFound is returned when no namespace holds an entry for a URL.
var ErrNotFound = errors.New("entry not found")

// Store keeps named response caches in a bbolt file. Each namespace is a
// nested bucket under "caches" keyed by request URL.
type Store struct {
	db *bolt.DB
}

func NewStore(dbPath string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{cachesBucket, metaBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores one entry, creating the namespace if needed.
func (s *Store) Put(namespace string, entry *Entry) error {
	return s.PutAll(namespace, []*Entry{entry})
}

// PutAll stores entries in a single transaction: either all land or none.
func (s *Store) PutAll(namespace string, entries []*Entry) error {
	if namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(cachesBucket).CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("creating namespace %s: %w", namespace, err)
		}
		for _, entry := range entries {
			if entry == nil || entry.URL == "" {
				return fmt.Errorf("entry without URL in %s", namespace)
			}
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(entry.URL), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Match looks url up in each namespace in order and returns the first hit
// along with the namespace it came from.
func (s *Store) Match(url string, namespaces ...string) (*Entry, string, error) {
	var (
		found *Entry
		from  string
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		caches := tx.Bucket(cachesBucket)
		for _, ns := range namespaces {
			b := caches.Bucket([]byte(ns))
			if b == nil {
				continue
			}
			data := b.Get([]byte(url))
			if data == nil {
				continue
			}
			var entry Entry
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("decoding %s in %s: %w", url, ns, err)
			}
			found, from = &entry, ns
			return nil
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, "", err
	}
	return found, from, nil
}

// Namespaces lists existing namespaces in name order.
func (s *Store) Namespaces() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(cachesBucket).ForEach(func(k, v []byte) error {
			if v == nil {
				names = append(names, string(k))
			}
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

func (s *Store) DeleteNamespace(namespace string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(cachesBucket).DeleteBucket([]byte(namespace))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Keep deletes every namespace not in keep and reports what was removed.
func (s *Store) Keep(keep ...string) ([]string, error) {
	allowed := make(map[string]bool, len(keep))
	for _, k := range keep {
		allowed[k] = true
	}

	var deleted []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		caches := tx.Bucket(cachesBucket)
		var stale [][]byte
		err := caches.ForEach(func(k, v []byte) error {
			if v == nil && !allowed[string(k)] {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := caches.DeleteBucket(k); err != nil {
				return err
			}
			deleted = append(deleted, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *Store) Stats() ([]NamespaceStats, error) {
	var stats []NamespaceStats
	err := s.db.View(func(tx *bolt.Tx) error {
		caches := tx.Bucket(cachesBucket)
		return caches.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			st := NamespaceStats{Name: string(k)}
			err := caches.Bucket(k).ForEach(func(_, data []byte) error {
				st.Entries++
				st.Bytes += int64(len(data))
				return nil
			})
			stats = append(stats, st)
			return err
		})
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats, err
}

func (s *Store) SetMetadata(key string, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		data := b.Get([]byte(key))
		if data != nil {
			value = string(data)
		}
		return nil
	})
	return value, err
}
