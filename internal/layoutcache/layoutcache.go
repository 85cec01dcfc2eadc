// Package layoutcache persists resolved alignments between runs.
package layoutcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/k0ekk0ek/cdds/internal/align"
	"github.com/k0ekk0ek/cdds/internal/layout"
	"github.com/k0ekk0ek/cdds/internal/types"
)

// schemaVersion must be bumped whenever Payload changes shape.
const schemaVersion uint16 = 1

// Key identifies one batch: a graph digest plus the requested roots.
type Key [32]byte

// KeyFor derives the cache key of resolving roots in g.
func KeyFor(g *types.Graph, roots []types.TypeID) Key {
	h := sha256.New()
	d := g.Digest()
	h.Write(d[:])
	var buf [4]byte
	for _, id := range roots {
		binary.LittleEndian.PutUint32(buf[:], uint32(id))
		h.Write(buf[:])
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// Entry is one cached result.
type Entry struct {
	ID    uint32 `msgpack:"id"`
	Name  string `msgpack:"name"`
	Class string `msgpack:"class"`
}

// Payload is the on-disk record of a batch.
type Payload struct {
	Schema  uint16  `msgpack:"schema"`
	Entries []Entry `msgpack:"entries"`
}

// Cache stores payloads by Key under a directory. Safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// Open returns the cache under $XDG_CACHE_HOME/<app>, falling back to
// ~/.cache/<app>.
func Open(app string) (*Cache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	return OpenAt(filepath.Join(base, app))
}

// OpenAt returns a cache rooted at dir, creating it if needed.
func OpenAt(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) pathFor(key Key) string {
	return filepath.Join(c.dir, "layouts", hex.EncodeToString(key[:])+".mp")
}

// Put writes results under key, replacing any previous payload atomically.
func (c *Cache) Put(key Key, results []layout.Result) (err error) {
	if c == nil {
		return nil
	}
	payload := Payload{Schema: schemaVersion, Entries: make([]Entry, 0, len(results))}
	for _, r := range results {
		payload.Entries = append(payload.Entries, Entry{ID: uint32(r.ID), Name: r.Name, Class: r.Class.String()})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		// after a successful rename the temp name no longer exists
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()

	if err := msgpack.NewEncoder(f).Encode(&payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode layout cache: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get loads the results stored under key. A payload written with another
// schema is treated as a miss.
func (c *Cache) Get(key Key) ([]layout.Result, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var payload Payload
	if err := msgpack.NewDecoder(f).Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("decode layout cache: %w", err)
	}
	if payload.Schema != schemaVersion {
		return nil, false, nil
	}
	out := make([]layout.Result, 0, len(payload.Entries))
	for _, e := range payload.Entries {
		cls, err := align.Parse(e.Class)
		if err != nil {
			return nil, false, fmt.Errorf("decode layout cache: %s: %w", e.Name, err)
		}
		out = append(out, layout.Result{
			ID:     types.TypeID(e.ID),
			Name:   e.Name,
			Class:  cls,
			Export: align.ExportOf(cls),
		})
	}
	return out, true, nil
}

// DropAll removes every stored payload.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(filepath.Join(c.dir, "layouts"))
}
