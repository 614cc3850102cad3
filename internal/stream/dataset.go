package stream

import "context"

// Cursor iterates the records of one stream, in insertion order, exactly
// as written by a Cache's Write calls.
type Cursor interface {
	Next(ctx context.Context) (Record, bool, error)
	Close() error
}

// Cache is the minimal surface Dataset needs from a cache implementation.
// It is declared here (rather than imported from internal/cache) so that
// stream has no dependency on any particular cache backend; internal/cache
// implements this interface.
type Cache interface {
	Write(ctx context.Context, key Key, records []Record) (int, error)
	Read(ctx context.Context, key Key) (Cursor, error)
	Size(key Key) (int64, error)
	Close() error
}

// renameEntry resolves a (new_name, new_schema) read request back to the
// (old_name, old_schema) the cache actually holds, per the "Stream rename
// map" design note — it lets a multi-destination composer re-target a
// stream's schema_name without rewriting cache contents.
type renameEntry struct {
	newName, newSchema string
	oldKey             Key
}

// Dataset is a namespace plus an ordered set of Streams, backed by one
// Cache, produced by a single source Read.
type Dataset struct {
	Namespace string
	BatchID   string
	Dt        string

	cache   Cache
	streams []*Stream
	renames []renameEntry
}

// NewDataset constructs a Dataset over cache, initially empty of streams.
func NewDataset(namespace, batchID, dt string, cache Cache) *Dataset {
	return &Dataset{Namespace: namespace, BatchID: batchID, Dt: dt, cache: cache}
}

// AddStream registers s as part of the dataset. The source connector
// calls this once per configured stream before writing any records.
func (d *Dataset) AddStream(s *Stream) { d.streams = append(d.streams, s) }

// Streams returns the dataset's streams in registration order.
func (d *Dataset) Streams() []*Stream { return d.streams }

// Write appends records to the stream's cache entry.
func (d *Dataset) Write(ctx context.Context, s *Stream, records []Record) (int, error) {
	return d.cache.Write(ctx, d.resolve(s.Key()), records)
}

// Read returns a lazy cursor over the stream's records, in insertion
// order.
func (d *Dataset) Read(ctx context.Context, s *Stream) (Cursor, error) {
	return d.cache.Read(ctx, d.resolve(s.Key()))
}

// Size returns the exact record count written for the stream so far.
func (d *Dataset) Size(s *Stream) (int64, error) {
	return d.cache.Size(d.resolve(s.Key()))
}

// RenameStream remaps future reads of (newName, newSchema) to the cache
// entry already held under (oldName, oldSchema), without rewriting the
// cache. Used by the multi-destination composer when it retargets a
// stream's schema_name for a downstream warehouse destination.
func (d *Dataset) RenameStream(oldName, oldSchema, newName, newSchema string) {
	d.renames = append(d.renames, renameEntry{
		newName:   newName,
		newSchema: newSchema,
		oldKey:    Key{SchemaName: oldSchema, Name: oldName},
	})
}

func (d *Dataset) resolve(key Key) Key {
	for _, r := range d.renames {
		if r.newName == key.Name && r.newSchema == key.SchemaName {
			return r.oldKey
		}
	}
	return key
}

// Close releases the dataset's backing cache.
func (d *Dataset) Close() error { return d.cache.Close() }
