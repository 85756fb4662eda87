package offline

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "offline/"

// entry is one stored response.
type entry struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// keptHeaders are the response headers worth replaying from cache.
var keptHeaders = []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"}

// Caches is a set of named response caches persisted in badger under
// "offline/<name>/<request key>".
type Caches struct {
	db *badger.DB
}

func NewCaches(db *badger.DB) *Caches {
	return &Caches{db: db}
}

func cacheKey(name, reqKey string) []byte {
	return []byte(keyPrefix + name + "/" + reqKey)
}

func (c *Caches) Put(name, reqKey string, e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(name, reqKey), data)
	})
}

func (c *Caches) Match(name, reqKey string) (entry, bool) {
	var e entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(name, reqKey))
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &e)
	})
	return e, err == nil
}

// Names lists the caches holding at least one entry.
func (c *Caches) Names() ([]string, error) {
	seen := map[string]struct{}{}
	var names []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), keyPrefix)
			name, _, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
		return nil
	})
	return names, err
}

// Delete drops a whole cache.
func (c *Caches) Delete(name string) error {
	if name == "" {
		return errors.New("offline: empty cache name")
	}
	prefix := []byte(keyPrefix + name + "/")

	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}
