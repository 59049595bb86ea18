// Package store persists raw runtime metadata so restarts can skip the
// multi-megabyte state_getMetadata download for runtimes already seen.
package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/fd1az/substrate-sidecar/internal/logger"
)

var bucketMetadata = []byte("metadata")

// Store is a bbolt file holding zstd-compressed metadata blobs, one nested
// bucket per endpoint URL keyed by big-endian spec version.
type Store struct {
	db  *bolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
	log logger.LoggerInterface
}

// Open creates or opens the store at path.
func Open(path string, log logger.LoggerInterface) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetadata)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &Store{db: db, enc: enc, dec: dec, log: log}, nil
}

func versionKey(specVersion uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], specVersion)
	return k[:]
}

// Get returns the metadata stored for (endpoint, specVersion).
func (s *Store) Get(ctx context.Context, endpoint string, specVersion uint32) ([]byte, bool, error) {
	var compressed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata).Bucket([]byte(endpoint))
		if b == nil {
			return nil
		}
		if v := b.Get(versionKey(specVersion)); v != nil {
			compressed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read metadata: %w", err)
	}
	if compressed == nil {
		return nil, false, nil
	}

	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		s.log.Warn(ctx, "dropping corrupt stored metadata",
			"endpoint", endpoint, "spec_version", specVersion, "error", err)
		if delErr := s.delete(endpoint, specVersion); delErr != nil {
			return nil, false, delErr
		}
		return nil, false, nil
	}
	return raw, true, nil
}

// Put stores raw under (endpoint, specVersion), replacing any previous blob.
func (s *Store) Put(ctx context.Context, endpoint string, specVersion uint32, raw []byte) error {
	compressed := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketMetadata).CreateBucketIfNotExists([]byte(endpoint))
		if err != nil {
			return err
		}
		return b.Put(versionKey(specVersion), compressed)
	})
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	s.log.Debug(ctx, "stored metadata",
		"endpoint", endpoint, "spec_version", specVersion,
		"raw_bytes", len(raw), "stored_bytes", len(compressed))
	return nil
}

// Versions lists the spec versions stored for endpoint in ascending order.
func (s *Store) Versions(endpoint string) ([]uint32, error) {
	var out []uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata).Bucket([]byte(endpoint))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			if len(k) == 4 {
				out = append(out, binary.BigEndian.Uint32(k))
			}
			return nil
		})
	})
	return out, err
}

func (s *Store) delete(endpoint string, specVersion uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata).Bucket([]byte(endpoint))
		if b == nil {
			return nil
		}
		return b.Delete(versionKey(specVersion))
	})
}

// Close releases the database file.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
