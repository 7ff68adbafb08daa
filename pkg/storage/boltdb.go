package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketPropertyKeyTokens     = []byte("property_key_tokens")
	bucketRelationshipTypeToken = []byte("relationship_type_tokens")
	bucketSourceCheckpoints     = []byte("source_checkpoints")
	bucketCA                    = []byte("ca")
)

// BoltTokenStore implements TokenStore using BoltDB
type BoltTokenStore struct {
	db *bolt.DB
}

// NewBoltTokenStore creates a new BoltDB-backed token store
func NewBoltTokenStore(dataDir string) (*BoltTokenStore, error) {
	dbPath := filepath.Join(dataDir, "heartwood-tokens.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open token database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketPropertyKeyTokens,
			bucketRelationshipTypeToken,
			bucketSourceCheckpoints,
			bucketCA,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltTokenStore{db: db}, nil
}

// Close closes the database
func (s *BoltTokenStore) Close() error {
	return s.db.Close()
}

func idKey(id uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, id)
	return key
}

func (s *BoltTokenStore) putToken(bucket []byte, id uint32, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.Put(idKey(id), []byte(name))
	})
}

func (s *BoltTokenStore) getToken(bucket []byte, id uint32) (string, error) {
	var name string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get(idKey(id))
		if data == nil {
			return fmt.Errorf("token %d not found", id)
		}
		name = string(data)
		return nil
	})
	return name, err
}

func (s *BoltTokenStore) findToken(bucket []byte, name string) (uint32, bool, error) {
	var found uint32
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.ForEach(func(k, v []byte) error {
			if string(v) == name {
				found = binary.BigEndian.Uint32(k)
				ok = true
			}
			return nil
		})
	})
	return found, ok, err
}

func (s *BoltTokenStore) listTokens(bucket []byte) (map[uint32]string, error) {
	out := make(map[uint32]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.ForEach(func(k, v []byte) error {
			out[binary.BigEndian.Uint32(k)] = string(v)
			return nil
		})
	})
	return out, err
}

// PutPropertyKeyToken records the name for a property key id
func (s *BoltTokenStore) PutPropertyKeyToken(id uint32, name string) error {
	return s.putToken(bucketPropertyKeyTokens, id, name)
}

// GetPropertyKeyToken looks up the name for a property key id
func (s *BoltTokenStore) GetPropertyKeyToken(id uint32) (string, error) {
	return s.getToken(bucketPropertyKeyTokens, id)
}

// FindPropertyKeyToken looks up the id for a property key name
func (s *BoltTokenStore) FindPropertyKeyToken(name string) (uint32, bool, error) {
	return s.findToken(bucketPropertyKeyTokens, name)
}

// ListPropertyKeyTokens returns the full id->name table
func (s *BoltTokenStore) ListPropertyKeyTokens() (map[uint32]string, error) {
	return s.listTokens(bucketPropertyKeyTokens)
}

// PutRelationshipTypeToken records the name for a relationship type id
func (s *BoltTokenStore) PutRelationshipTypeToken(id uint32, name string) error {
	return s.putToken(bucketRelationshipTypeToken, id, name)
}

// GetRelationshipTypeToken looks up the name for a relationship type id
func (s *BoltTokenStore) GetRelationshipTypeToken(id uint32) (string, error) {
	return s.getToken(bucketRelationshipTypeToken, id)
}

// FindRelationshipTypeToken looks up the id for a relationship type name
func (s *BoltTokenStore) FindRelationshipTypeToken(name string) (uint32, bool, error) {
	return s.findToken(bucketRelationshipTypeToken, name)
}

// ListRelationshipTypeTokens returns the full id->name table
func (s *BoltTokenStore) ListRelationshipTypeTokens() (map[uint32]string, error) {
	return s.listTokens(bucketRelationshipTypeToken)
}

// PutSourceCheckpoint records the last logical-log tx id a data source applied
func (s *BoltTokenStore) PutSourceCheckpoint(resource string, lastTxID uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSourceCheckpoints)
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, lastTxID)
		return b.Put([]byte(resource), val)
	})
}

// GetSourceCheckpoint returns the last applied tx id for a resource
func (s *BoltTokenStore) GetSourceCheckpoint(resource string) (uint64, bool, error) {
	var txID uint64
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSourceCheckpoints)
		data := b.Get([]byte(resource))
		if data == nil {
			return nil
		}
		txID = binary.BigEndian.Uint64(data)
		ok = true
		return nil
	})
	return txID, ok, err
}

// ListSourceCheckpoints returns the full resource->last-tx-id table
func (s *BoltTokenStore) ListSourceCheckpoints() (map[string]uint64, error) {
	out := make(map[string]uint64)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSourceCheckpoints)
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = binary.BigEndian.Uint64(v)
			return nil
		})
	})
	return out, err
}

// SaveCA saves the certificate authority data
func (s *BoltTokenStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		return b.Put([]byte("ca"), data)
	})
}

// GetCA retrieves the certificate authority data
func (s *BoltTokenStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		v := b.Get([]byte("ca"))
		if v == nil {
			return fmt.Errorf("CA not found")
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}
