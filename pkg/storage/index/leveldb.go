package index

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDBIndexer persists records in a LevelDB database, JSON-encoded.
type LevelDBIndexer[K comparable, V any] struct {
	db    *leveldb.DB
	dbDir string

	keyToBytes func(K) []byte
	bytesToKey func([]byte) (K, error)

	writeOpts     *opt.WriteOptions
	writeOptsSync *opt.WriteOptions
}

func NewLevelDBIndexer[K comparable, V any](
	dbDir string,
	keyToBytes func(K) []byte,
	bytesToKey func([]byte) (K, error),
) (*LevelDBIndexer[K, V], error) {
	db, err := leveldb.OpenFile(dbDir, nil)
	if ldberrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(dbDir, nil)
	}
	if err != nil {
		return nil, err
	}

	return &LevelDBIndexer[K, V]{
		db:            db,
		dbDir:         dbDir,
		keyToBytes:    keyToBytes,
		bytesToKey:    bytesToKey,
		writeOpts:     &opt.WriteOptions{Sync: false},
		writeOptsSync: &opt.WriteOptions{Sync: true},
	}, nil
}

// JSON rather than gob: gob omits zero-valued fields, so a pointer to 0
// would decode as nil and a declared zero length would become a
// deferred one.
func encode[V any](v V) ([]byte, error) {
	return json.Marshal(v)
}

func decode[V any](data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}

func (m *LevelDBIndexer[K, V]) put(key K, value V, opts *opt.WriteOptions) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return m.db.Put(m.keyToBytes(key), data, opts)
}

func (m *LevelDBIndexer[K, V]) Put(key K, value V) error {
	return m.put(key, value, m.writeOpts)
}

func (m *LevelDBIndexer[K, V]) PutSync(key K, value V) error {
	return m.put(key, value, m.writeOptsSync)
}

func (m *LevelDBIndexer[K, V]) Get(key K) (V, error) {
	data, err := m.db.Get(m.keyToBytes(key), nil)
	if err != nil {
		var zero V
		if errors.Is(err, leveldb.ErrNotFound) {
			return zero, ErrKeyNotFound
		}
		return zero, err
	}
	return decode[V](data)
}

func (m *LevelDBIndexer[K, V]) Delete(key K) error {
	return m.db.Delete(m.keyToBytes(key), m.writeOpts)
}

func (m *LevelDBIndexer[K, V]) DeleteSync(key K) error {
	return m.db.Delete(m.keyToBytes(key), m.writeOptsSync)
}

func (m *LevelDBIndexer[K, V]) Iterate(fn func(key K, value V) error) error {
	iter := m.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		key, err := m.bytesToKey(iter.Key())
		if err != nil {
			return err
		}
		value, err := decode[V](iter.Value())
		if err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (m *LevelDBIndexer[K, V]) Close() error {
	return m.db.Close()
}

func (m *LevelDBIndexer[K, V]) Destroy() error {
	if err := m.db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(m.dbDir)
}
