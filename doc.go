// Package contents provides an embedded, segmented contents index for Go.
//
// An index maps caller-supplied entity ids to dense 32-bit indices and keeps,
// per key, a postings block listing the entities that contain the key
// together with a typed detail (count, positions, forms or opaque bytes).
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, _ := contents.Open(ctx)
//	defer idx.Close(ctx)
//
//	idx.SetEntity(ctx, []byte("doc-1"), nil, contents.Map{
//	    Type:  contents.BlockCount,
//	    Pairs: map[string][]byte{"go": contents.EncodeCount(2)},
//	})
//
//	c, _ := idx.GetKeyBlock([]byte("go"))
//	for _, p := range contents.Collect(c) {
//	    e, _ := idx.GetEntityByIndex(p.Index)
//	    fmt.Println(string(e.ID()))
//	}
//
// # Segments
//
// Writes go to an open in-memory segment. When it reaches its entity or
// arena limit it is rotated: frozen, committed in the background into an
// immutable segment, and replaced by a fresh one. Small committed segments
// are merged in the background, dropping deleted entities.
//
// Replacing an entity keeps its id but gives it a new global index; the
// postings of the old version disappear from every cursor immediately.
//
// # Persistence
//
// Without WithBlobStore the index is in memory only. With a blob store,
// committed segments, their patch overlays and a manifest listing the
// segments are written to it, and Open resumes from the last manifest:
//
//	store := blobstore.NewLocalStore("./data")
//	idx, _ := contents.Open(ctx, contents.WithBlobStore(store))
//	idx.Flush(ctx) // everything written so far is durable
//
// The minio and s3 subpackages provide object-store backends.
//
// # Observability
//
// Logging uses log/slog through Logger. Metrics go to a MetricsCollector;
// NewPrometheusCollector exports them to Prometheus.
package contents
