package rack

import (
	"iter"
	"time"

	"go.etcd.io/bbolt"
)

var dataBucket = []byte("data")

type boltStorage struct {
	bdb *bbolt.DB
}

func openBoltStorage(path string, isTesting bool) (storage, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if isTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, err
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(dataBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return &boltStorage{bdb: bdb}, nil
}

func (s *boltStorage) Get(key string) ([]byte, error) {
	var value []byte
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		raw := btx.Bucket(dataBucket).Get([]byte(key))
		if raw != nil {
			// Bolt memory is only valid inside the transaction.
			value = append([]byte(nil), raw...)
		}
		return nil
	})
	return value, err
}

func (s *boltStorage) Put(key string, value []byte) error {
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(dataBucket).Put([]byte(key), value)
	})
}

func (s *boltStorage) Delete(key string) error {
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(dataBucket).Delete([]byte(key))
	})
}

func (s *boltStorage) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = s.bdb.View(func(btx *bbolt.Tx) error {
			c := btx.Bucket(dataBucket).Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if !yield(string(k)) {
					break
				}
			}
			return nil
		})
	}
}

func (s *boltStorage) Len() (int, error) {
	var n int
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		n = btx.Bucket(dataBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *boltStorage) Wipe() error {
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		if err := btx.DeleteBucket(dataBucket); err != nil {
			return err
		}
		_, err := btx.CreateBucket(dataBucket)
		return err
	})
}

// Bolt iterates in byte order, not insertion order.
func (s *boltStorage) Ordered() bool { return false }

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}
