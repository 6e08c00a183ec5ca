package contents

import (
	"context"
	"iter"
	"time"

	"github.com/hupe1980/contents/internal/engine"
	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/manifest"
	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/segment"
	"github.com/hupe1980/contents/internal/storage"
)

type (
	// Entity is one indexed document: caller id, global index, version and extras.
	Entity = entity.Entity

	// Contents produces the postings of one entity.
	Contents = segment.Contents

	// ContentsFunc adapts a function to Contents.
	ContentsFunc = segment.ContentsFunc

	// Sink receives the postings of one entity.
	Sink = segment.Sink

	// Map is Contents with a fixed key set sharing one block type.
	Map = segment.Map

	// BlockType is the detail shape shared by every entry of one key.
	BlockType = postings.BlockType

	// Cursor walks the postings of one key in increasing index order.
	Cursor = postings.Cursor

	// Posting is one (index, detail) pair of a cursor.
	Posting = postings.Posting

	// Form is one (position, form id) occurrence of a FormsOrder detail.
	Form = postings.Form

	// KeyStats describes the postings of one key.
	KeyStats = postings.Stats

	// Segment describes one segment of the index.
	Segment = engine.Segment

	// Stats summarizes the index.
	Stats = engine.Stats

	// MergePolicy picks the segments to merge.
	MergePolicy = engine.MergePolicy

	// SegmentStats is what a MergePolicy sees of a segment.
	SegmentStats = engine.SegmentStats

	// MergeTask is the run of segments a MergePolicy selected.
	MergeTask = engine.MergeTask
)

const (
	BlockNone       = postings.None
	BlockCount      = postings.Count
	BlockEntryOrder = postings.EntryOrder
	BlockFormsOrder = postings.FormsOrder
	BlockDump       = postings.Dump
)

// NotFound is the cursor position past the last posting.
const NotFound = entity.NotFound

// Index is a segmented contents index: an open in-memory segment taking
// writes, committed immutable segments behind it, and background merging.
//
// All methods are safe for concurrent use.
type Index struct {
	layers  *engine.Layers
	logger  *Logger
	metrics MetricsCollector
}

// Open opens an index. With WithBlobStore the segment list is restored
// from the store's manifest, otherwise the index starts empty in memory.
func Open(ctx context.Context, opts ...Option) (*Index, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	rc := o.controller()
	storeOpts := []storage.Option{
		storage.WithCompression(o.compression),
		storage.WithRateLimit(rc),
		storage.WithPrefix(o.prefix),
	}
	if o.mmap {
		storeOpts = append(storeOpts, storage.WithMmap())
	}

	engineOpts := append(o.engineOptions(), engine.WithResourceController(rc))
	if o.store != nil {
		engineOpts = append(engineOpts,
			engine.WithStorage(storage.NewBlob(o.store, storeOpts...)),
			engine.WithManifestStore(manifest.NewStore(o.store)),
		)
	} else {
		engineOpts = append(engineOpts, engine.WithStorage(storage.NewMemory(storeOpts...)))
	}

	layers, err := engine.Open(ctx, engineOpts...)
	if err != nil {
		o.logger.ErrorContext(ctx, "open failed", "error", err)
		return nil, translateError(err)
	}
	o.logger.InfoContext(ctx, "index opened", "segments", len(layers.Segments()), "persistent", o.store != nil)

	return &Index{
		layers:  layers,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}, nil
}

// SetEntity inserts id, or replaces its previous version, with the postings
// produced by c. The returned entity carries the assigned global index.
// A nil c indexes the entity without postings.
func (idx *Index) SetEntity(ctx context.Context, id, extras []byte, c Contents) (Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil {
		c = Map{}
	}
	start := time.Now()
	e, err := idx.layers.SetEntity(id, extras, c)
	err = translateError(err)
	idx.metrics.RecordSetEntity(time.Since(start), err)

	var index uint32
	if e != nil {
		index = e.Index()
	}
	idx.logger.LogSetEntity(ctx, id, index, err)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DelEntity deletes id. It reports false if id was not present.
func (idx *Index) DelEntity(ctx context.Context, id []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	start := time.Now()
	ok, err := idx.layers.DelEntity(id)
	err = translateError(err)
	idx.metrics.RecordDelete(time.Since(start), err)
	idx.logger.LogDelete(ctx, id, ok, err)
	return ok, err
}

// SetExtras replaces the extras of id without touching its postings.
// It reports false if id was not present.
func (idx *Index) SetExtras(ctx context.Context, id, extras []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	start := time.Now()
	ok, err := idx.layers.SetExtras(id, extras)
	err = translateError(err)
	idx.metrics.RecordUpdate(time.Since(start), err)
	return ok, err
}

// GetEntity returns the live version of id, or nil if it is absent.
func (idx *Index) GetEntity(id []byte) (Entity, error) {
	e, err := idx.layers.GetEntity(id)
	return e, translateError(err)
}

// GetEntityByIndex returns the live entity at a global index, or nil.
func (idx *Index) GetEntityByIndex(index uint32) (Entity, error) {
	e, err := idx.layers.GetEntityByIndex(index)
	return e, translateError(err)
}

// GetMaxIndex returns the highest global index allocated so far.
func (idx *Index) GetMaxIndex() uint32 {
	return idx.layers.GetMaxIndex()
}

// GetKeyBlock returns a cursor over the live postings of key in global
// index order, or nil if no live entity carries key.
func (idx *Index) GetKeyBlock(key []byte) (Cursor, error) {
	start := time.Now()
	c, err := idx.layers.GetKeyBlock(key)
	err = translateError(err)
	idx.metrics.RecordLookup(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetKeyStats returns the block type and the number of postings of key,
// counting entries not yet cleaned up by a merge.
func (idx *Index) GetKeyStats(key []byte) (KeyStats, error) {
	st, err := idx.layers.GetKeyStats(key)
	return st, translateError(err)
}

// Entities yields the live entities with id >= from in id order.
func (idx *Index) Entities(from []byte) iter.Seq2[Entity, error] {
	return translateSeq(idx.layers.Entities(from))
}

// Keys yields the distinct postings keys >= from in key order.
func (idx *Index) Keys(from []byte) iter.Seq2[[]byte, error] {
	return translateSeq(idx.layers.Keys(from))
}

func translateSeq[T any](seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for v, err := range seq {
			if !yield(v, translateError(err)) {
				return
			}
		}
	}
}

// Rotate freezes the open segment and starts committing it.
func (idx *Index) Rotate(ctx context.Context) error {
	return translateError(idx.layers.Rotate(ctx))
}

// Flush commits the open segment, waits for pending commits and persists
// the patches and the manifest.
func (idx *Index) Flush(ctx context.Context) error {
	start := time.Now()
	err := translateError(idx.layers.Flush(ctx))
	if err != nil {
		idx.logger.ErrorContext(ctx, "flush failed", "error", err)
		return err
	}
	idx.logger.DebugContext(ctx, "flush completed", "duration", time.Since(start))
	return nil
}

// Segments lists the current segments in index order.
func (idx *Index) Segments() []Segment {
	return idx.layers.Segments()
}

// Stats returns a summary of the index.
func (idx *Index) Stats() Stats {
	return idx.layers.Stats()
}

// Close flushes the index and releases all segments. Subsequent calls
// return ErrClosed.
func (idx *Index) Close(ctx context.Context) error {
	err := translateError(idx.layers.Close(ctx))
	if err != nil {
		idx.logger.ErrorContext(ctx, "close failed", "error", err)
		return err
	}
	idx.logger.InfoContext(ctx, "index closed")
	return nil
}

// Collect drains c into a slice. A nil cursor yields nil.
func Collect(c Cursor) []Posting {
	if c == nil {
		return nil
	}
	return postings.Collect(c)
}

// EncodeCount returns the BlockCount detail for n >= 1 occurrences.
func EncodeCount(n uint32) []byte { return postings.EncodeCount(n) }

// DecodeCount parses a BlockCount detail.
func DecodeCount(detail []byte) (uint32, error) { return postings.DecodeCount(detail) }

// EncodeEntries returns the BlockEntryOrder detail for increasing positions.
func EncodeEntries(positions []uint32) ([]byte, error) { return postings.EncodeEntries(positions) }

// DecodeEntries parses a BlockEntryOrder detail.
func DecodeEntries(detail []byte) ([]uint32, error) { return postings.DecodeEntries(detail) }

// EncodeForms returns the BlockFormsOrder detail for forms sorted by position.
func EncodeForms(forms []Form) ([]byte, error) { return postings.EncodeForms(forms) }

// DecodeForms parses a BlockFormsOrder detail.
func DecodeForms(detail []byte) ([]Form, error) { return postings.DecodeForms(detail) }

// EncodeDump returns the BlockDump detail wrapping b.
func EncodeDump(b []byte) []byte { return postings.EncodeDump(b) }

// DecodeDump parses a BlockDump detail.
func DecodeDump(detail []byte) ([]byte, error) { return postings.DecodeDump(detail) }
