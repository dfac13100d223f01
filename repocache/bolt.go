package repocache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"

	"repoctl"
)

const (
	// SchemaVersion is bumped whenever the persisted payload layout changes.
	// A mismatch on open resets the database to a cold cache.
	SchemaVersion = 1

	// DefaultMaxBytes caps the database file size. Beyond the cap new writes
	// are skipped silently and the cache degrades to memory-only.
	DefaultMaxBytes = 5 * 1024 * 1024

	// DefaultFlushDelay coalesces bursts of mutations into one write.
	DefaultFlushDelay = 500 * time.Millisecond
)

var (
	bucketEntities = []byte("entities")
	bucketPages    = []byte("pages")
	bucketSchema   = []byte("schema")

	keySchemaVersion = []byte("version")
)

// DB persists the normalized store in a bbolt database. Entity and page
// payloads are JSON-encoded and zstd-compressed.
type DB struct {
	db       *bbolt.DB
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	path     string
	maxBytes int64
	logger   *slog.Logger
}

// DBOption configures a DB.
type DBOption func(*DB)

// WithDBLogger sets the logger for the database.
func WithDBLogger(logger *slog.Logger) DBOption {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithMaxBytes sets the database file size cap. Zero disables the cap.
func WithMaxBytes(n int64) DBOption {
	return func(d *DB) {
		d.maxBytes = n
	}
}

// OpenDB opens (or creates) the cache database at path.
func OpenDB(path string, opts ...DBOption) (*DB, error) {
	d := &DB{
		path:     path,
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	d.db = db

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	d.enc = enc

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		_ = db.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	d.dec = dec

	if err := d.ensureSchema(); err != nil {
		d.Close()
		return nil, err
	}

	d.logger.Debug("opened cache database", "path", path, "max_bytes", d.maxBytes)
	return d, nil
}

// ensureSchema creates buckets and resets the database when the stored schema
// version does not match.
func (d *DB) ensureSchema() error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		schema, err := tx.CreateBucketIfNotExists(bucketSchema)
		if err != nil {
			return fmt.Errorf("creating schema bucket: %w", err)
		}

		stored := schema.Get(keySchemaVersion)
		versionMatches := stored != nil && string(stored) == fmt.Sprint(SchemaVersion)

		if stored != nil && !versionMatches {
			d.logger.Debug("cache schema version mismatch, resetting",
				"stored", string(stored), "want", SchemaVersion)
			for _, name := range [][]byte{bucketEntities, bucketPages} {
				if tx.Bucket(name) != nil {
					if err := tx.DeleteBucket(name); err != nil {
						return fmt.Errorf("dropping bucket %s: %w", name, err)
					}
				}
			}
		}

		for _, name := range [][]byte{bucketEntities, bucketPages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}

		return schema.Put(keySchemaVersion, []byte(fmt.Sprint(SchemaVersion)))
	})
}

// Close releases the database and codec resources.
func (d *DB) Close() {
	if d.enc != nil {
		d.enc.Close()
		d.enc = nil
	}
	if d.dec != nil {
		d.dec.Close()
		d.dec = nil
	}
	if d.db != nil {
		_ = d.db.Close()
		d.db = nil
	}
}

// LoadAll reads the full persisted store into memory. Individual entries that
// fail to decode are skipped.
func (d *DB) LoadAll() (map[string]*repoctl.Repository, map[string]*PageIndex, error) {
	entities := make(map[string]*repoctl.Repository)
	pages := make(map[string]*PageIndex)

	err := d.db.View(func(tx *bbolt.Tx) error {
		if bucket := tx.Bucket(bucketEntities); bucket != nil {
			_ = bucket.ForEach(func(k, v []byte) error {
				var r repoctl.Repository
				if err := d.decodePayload(v, &r); err != nil {
					d.logger.Debug("skipping undecodable entity", "key", string(k), "error", err)
					return nil
				}
				entities[r.ID] = &r
				return nil
			})
		}
		if bucket := tx.Bucket(bucketPages); bucket != nil {
			_ = bucket.ForEach(func(k, v []byte) error {
				var p PageIndex
				if err := d.decodePayload(v, &p); err != nil {
					d.logger.Debug("skipping undecodable page", "key", string(k), "error", err)
					return nil
				}
				pages[string(k)] = &p
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading cache database: %w", err)
	}
	return entities, pages, nil
}

// Apply writes a batch of changes in a single transaction. A nil value in
// either map deletes the key. When the database file is over the size cap the
// whole batch is dropped; callers must tolerate cache non-persistence.
func (d *DB) Apply(entities map[string]*repoctl.Repository, pages map[string]*PageIndex) error {
	if d.overCap() {
		d.logger.Debug("cache database over size cap, skipping persistence", "path", d.path)
		return nil
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		entBucket := tx.Bucket(bucketEntities)
		pageBucket := tx.Bucket(bucketPages)
		if entBucket == nil || pageBucket == nil {
			return fmt.Errorf("cache buckets missing")
		}

		for id, r := range entities {
			key := []byte(entityKind + ":" + id)
			if r == nil {
				if err := entBucket.Delete(key); err != nil {
					return fmt.Errorf("deleting entity: %w", err)
				}
				continue
			}
			data, err := d.encodePayload(r)
			if err != nil {
				return fmt.Errorf("encoding entity: %w", err)
			}
			if err := entBucket.Put(key, data); err != nil {
				return fmt.Errorf("putting entity: %w", err)
			}
		}

		for digest, p := range pages {
			key := []byte(digest)
			if p == nil {
				if err := pageBucket.Delete(key); err != nil {
					return fmt.Errorf("deleting page: %w", err)
				}
				continue
			}
			data, err := d.encodePayload(p)
			if err != nil {
				return fmt.Errorf("encoding page: %w", err)
			}
			if err := pageBucket.Put(key, data); err != nil {
				return fmt.Errorf("putting page: %w", err)
			}
		}

		return nil
	})
}

// PurgeAll drops and recreates the data buckets.
func (d *DB) PurgeAll() error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntities, bucketPages} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return fmt.Errorf("dropping bucket %s: %w", name, err)
				}
			}
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("recreating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (d *DB) overCap() bool {
	if d.maxBytes <= 0 {
		return false
	}
	info, err := os.Stat(d.path)
	if err != nil {
		return false
	}
	return info.Size() > d.maxBytes
}

func (d *DB) encodePayload(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return d.enc.EncodeAll(raw, nil), nil
}

func (d *DB) decodePayload(data []byte, v any) error {
	raw, err := d.dec.DecodeAll(data, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
