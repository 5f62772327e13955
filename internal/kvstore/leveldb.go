package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

// LevelDB is a Store on top of an embedded goleveldb database.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) the database directory at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(_ context.Context, key string) (string, error) {
	b, err := l.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return "", apperrors.ErrNotFound
		}
		return "", err
	}
	return string(b), nil
}

func (l *LevelDB) Put(_ context.Context, key, value string) error {
	return l.db.Put([]byte(key), []byte(value), nil)
}

func (l *LevelDB) Delete(_ context.Context, key string) error {
	return l.db.Delete([]byte(key), nil)
}

func (l *LevelDB) Keys(_ context.Context, prefix string) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
