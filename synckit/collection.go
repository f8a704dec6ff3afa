package synckit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// Collection is an ordered set of records of one type with unique ids.
// A Collection is never mutated after construction: Upsert and Remove
// return a new value, so readers can hold one without locking.
type Collection[T Record] struct {
	items []T
	index map[string]int
}

// NewCollection builds a collection from records. A repeated id replaces the
// earlier record in place.
func NewCollection[T Record](records []T) *Collection[T] {
	c := &Collection[T]{
		items: make([]T, 0, len(records)),
		index: make(map[string]int, len(records)),
	}
	for _, r := range records {
		if i, ok := c.index[r.RecordID()]; ok {
			c.items[i] = r
			continue
		}
		c.index[r.RecordID()] = len(c.items)
		c.items = append(c.items, r)
	}
	return c
}

func (c *Collection[T]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Items returns a copy of the records in order.
func (c *Collection[T]) Items() []T {
	if c == nil {
		return nil
	}
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Collection[T]) Get(id string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	i, ok := c.index[id]
	if !ok {
		return zero, false
	}
	return c.items[i], true
}

// Upsert returns a collection with r replacing the record of the same id, or
// appended when absent.
func (c *Collection[T]) Upsert(r T) *Collection[T] {
	items := c.Items()
	if i, ok := c.lookup(r.RecordID()); ok {
		items[i] = r
	} else {
		items = append(items, r)
	}
	return NewCollection(items)
}

// Remove returns a collection without id. The receiver is returned unchanged
// when id is absent.
func (c *Collection[T]) Remove(id string) *Collection[T] {
	i, ok := c.lookup(id)
	if !ok {
		return c
	}
	items := make([]T, 0, len(c.items)-1)
	items = append(items, c.items[:i]...)
	items = append(items, c.items[i+1:]...)
	return NewCollection(items)
}

func (c *Collection[T]) lookup(id string) (int, bool) {
	if c == nil {
		return 0, false
	}
	i, ok := c.index[id]
	return i, ok
}

func (c *Collection[T]) ids() []string {
	out := make([]string, 0, c.Len())
	for _, r := range c.Items() {
		out = append(out, r.RecordID())
	}
	return out
}

func (c *Collection[T]) version(id string) int64 {
	r, ok := c.Get(id)
	if !ok {
		return 0
	}
	if v, ok := any(r).(Versioned); ok {
		return v.ServerVersion()
	}
	return 0
}

// concat returns c followed by the records of other; other must hold the
// same record type.
func (c *Collection[T]) concat(other resourceSet) (resourceSet, error) {
	o, ok := other.(*Collection[T])
	if !ok {
		return nil, fmt.Errorf("cannot append %T to %T", other, c)
	}
	return NewCollection(append(c.Items(), o.items...)), nil
}

func (c *Collection[T]) encode() ([]byte, error) {
	items := c.Items()
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

// resourceSet is the type-erased view the cache, snapshots and persistence
// work against.
type resourceSet interface {
	Len() int
	ids() []string
	version(id string) int64
	concat(other resourceSet) (resourceSet, error)
	encode() ([]byte, error)
}

// resourceCodec decodes a server or persisted payload into a resourceSet.
type resourceCodec struct {
	envelope string
	decode   func(data []byte, envelope string) (resourceSet, error)
	empty    func() resourceSet
}

var (
	codecMu sync.RWMutex
	codecs  = map[ResourceType]resourceCodec{}
)

// RegisterResource binds a record type to a resource. envelope is the object
// key that wraps the array in server responses (e.g. {"products": [...]});
// bare arrays are always accepted.
func RegisterResource[T Record](rt ResourceType, envelope string) {
	codecMu.Lock()
	defer codecMu.Unlock()
	codecs[rt] = resourceCodec{
		envelope: envelope,
		decode: func(data []byte, env string) (resourceSet, error) {
			records, err := decodeRecords[T](data, env)
			if err != nil {
				return nil, err
			}
			return NewCollection(records), nil
		},
		empty: func() resourceSet { return NewCollection[T](nil) },
	}
}

func init() {
	RegisterResource[Product](ResourceProducts, "products")
	RegisterResource[Order](ResourceOrders, "orders")
	RegisterResource[Category](ResourceCategories, "categories")
	RegisterResource[CartItem](ResourceCart, "items")
	RegisterResource[Favorite](ResourceFavorites, "favorites")
	RegisterResource[CarBrand](ResourceCarBrands, "car_brands")
	RegisterResource[CarModel](ResourceCarModels, "car_models")
	RegisterResource[ProductBrand](ResourceProductBrands, "product_brands")
}

func codecFor(rt ResourceType) (resourceCodec, error) {
	codecMu.RLock()
	defer codecMu.RUnlock()
	c, ok := codecs[rt]
	if !ok {
		return resourceCodec{}, syncErrors.NewValidationError(syncErrors.OpFetch,
			fmt.Errorf("no record type registered for resource %q", rt))
	}
	return c, nil
}

// decodeResource parses data for rt using the registered envelope.
func decodeResource(rt ResourceType, data []byte) (resourceSet, error) {
	c, err := codecFor(rt)
	if err != nil {
		return nil, err
	}
	set, err := c.decode(data, c.envelope)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rt, err)
	}
	return set, nil
}

func decodeRecords[T Record](data []byte, envelope string) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var records []T
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
	case '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, err
		}
		raw, ok := wrapper[envelope]
		if !ok {
			return nil, fmt.Errorf("response object has no %q field", envelope)
		}
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected payload starting with %q", trimmed[0])
	}

	for i, r := range records {
		if r.RecordID() == "" {
			return nil, fmt.Errorf("record %d has an empty id", i)
		}
	}
	return records, nil
}
