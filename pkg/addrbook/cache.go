package addrbook

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Key identifies a token address entry: one symbol can map to different
// contracts on different chains and networks.
type Key struct {
	Chain   string
	Network string
	Symbol  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Chain, k.Network, strings.ToUpper(k.Symbol))
}

// keys: t:<chain>:<network>:<SYMBOL>
func kToken(k Key) []byte {
	return []byte("t:" + k.Chain + ":" + k.Network + ":" + strings.ToUpper(k.Symbol))
}

// Cache is the persistent symbol -> contract address mapping, a local
// cache over the external data providers.
type Cache struct {
	db *pebble.DB
}

func OpenCache(path string) (*Cache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open address cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Get returns the cached address for k. A stored empty string counts as
// unresolved and reports a miss, matching the semantics of a null entry.
func (c *Cache) Get(k Key) (common.Address, bool, error) {
	val, closer, err := c.db.Get(kToken(k))
	if err == pebble.ErrNotFound {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, fmt.Errorf("get %s: %w", k, err)
	}
	defer closer.Close()

	hex := strings.TrimSpace(string(val))
	if hex == "" || !common.IsHexAddress(hex) {
		return common.Address{}, false, nil
	}
	return common.HexToAddress(hex), true, nil
}

// Put stores a resolved address for k.
func (c *Cache) Put(k Key, addr common.Address) error {
	if err := c.db.Set(kToken(k), []byte(addr.Hex()), pebble.Sync); err != nil {
		return fmt.Errorf("put %s: %w", k, err)
	}
	return nil
}

// Delete removes an entry, returning it to the unresolved state.
func (c *Cache) Delete(k Key) error {
	if err := c.db.Delete(kToken(k), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", k, err)
	}
	return nil
}

// SymbolFor does a reverse lookup over the whole cache. Used when a data
// provider hands back a contract address where a ticker is expected.
func (c *Cache) SymbolFor(addr common.Address) (string, bool, error) {
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("t:"),
		UpperBound: []byte("t;"),
	})
	if err != nil {
		return "", false, err
	}
	defer iter.Close()

	want := addr.Hex()
	for iter.First(); iter.Valid(); iter.Next() {
		if string(iter.Value()) != want {
			continue
		}
		key := string(iter.Key())
		if i := strings.LastIndexByte(key, ':'); i >= 0 {
			return key[i+1:], true, nil
		}
	}
	return "", false, nil
}
