package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/contents/blobstore"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the on-disk format written by Save.
	CurrentVersion = 1

	fileExt = ".json"
)

// Manifest is one committed generation of the segment layer: the ordered
// segment list plus the id allocator for the next container.
type Manifest struct {
	Version       int           `json:"version"`
	ID            uint64        `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	NextSegmentID uint64        `json:"next_segment_id"`
	Segments      []SegmentInfo `json:"segments"`
}

// New returns a manifest without segments. Id 0 is never allocated.
func New() *Manifest {
	return &Manifest{Version: CurrentVersion, CreatedAt: time.Now(), NextSegmentID: 1}
}

// SegmentInfo describes one committed segment. The segment owns global
// entity indices Lower..Upper (Upper is Lower-1 for an empty range); its
// local index i is global index Base+i.
type SegmentInfo struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"` // container name in storage
	Base     uint32 `json:"base"`
	Lower    uint32 `json:"lower"`
	Upper    uint32 `json:"upper"`
	Entities int    `json:"entities"`
	Size     int64  `json:"size"`
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Segments = slices.Clone(m.Segments)
	return &c
}

// Validate checks that segment ranges are ordered and disjoint and that
// every segment id is below NextSegmentID. Ranges of segments that were
// never committed leave gaps.
func (m *Manifest) Validate() error {
	var prev uint32
	for i, s := range m.Segments {
		if s.Name == "" {
			return fmt.Errorf("%w: segment %d has no name", ErrInvalid, i)
		}
		if s.ID >= m.NextSegmentID {
			return fmt.Errorf("%w: segment id %d >= next id %d", ErrInvalid, s.ID, m.NextSegmentID)
		}
		if s.Lower <= prev || s.Upper+1 < s.Lower {
			return fmt.Errorf("%w: segment %s range [%d, %d] after %d", ErrInvalid, s.Name, s.Lower, s.Upper, prev)
		}
		if s.Base+1 < s.Lower || s.Base > s.Upper {
			return fmt.Errorf("%w: segment %s base %d outside [%d, %d]", ErrInvalid, s.Name, s.Base, s.Lower-1, s.Upper)
		}
		prev = max(prev, s.Upper)
	}
	return nil
}

// FileName returns the blob name of manifest version id.
func FileName(id uint64) string {
	return fmt.Sprintf("%s-%06d%s", ManifestFileName, id, fileExt)
}

func parseFileName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, ManifestFileName+"-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, fileExt)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	return id, err == nil
}

// Store persists manifests as numbered JSON blobs and publishes the newest
// through the CURRENT pointer.
type Store struct {
	mu    sync.Mutex
	blobs blobstore.BlobStore
}

func NewStore(blobs blobstore.BlobStore) *Store {
	return &Store{blobs: blobs}
}

// Load reads the manifest CURRENT points at, or ErrNotFound.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	return s.LoadVersion(ctx, 0)
}

// LoadVersion reads manifest id; id 0 follows CURRENT.
func (s *Store) LoadVersion(ctx context.Context, versionID uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var filename string
	if versionID == 0 {
		content, err := blobstore.Get(ctx, s.blobs, CurrentFileName)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		filename = strings.TrimSpace(string(content))
	} else {
		filename = FileName(versionID)
	}

	content, err := blobstore.Get(ctx, s.blobs, filename)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", filename, err)
	}

	m := &Manifest{}
	if err := json.Unmarshal(content, m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", filename, err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %s has version %d", ErrIncompatibleVersion, filename, m.Version)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", filename, err)
	}
	return m, nil
}

// ListVersions returns the stored manifest ids in ascending order.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.blobs.List(ctx, ManifestFileName)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, f := range files {
		if id, ok := parseFileName(f); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Save writes m under the next id and then repoints CURRENT. m.ID is
// advanced in place.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.CreatedAt = time.Now()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	filename := FileName(m.ID)
	if err := s.blobs.Put(ctx, filename, data); err != nil {
		return fmt.Errorf("write manifest %s: %w", filename, err)
	}
	if err := s.blobs.Put(ctx, CurrentFileName, []byte(filename)); err != nil {
		return fmt.Errorf("publish %s: %w", CurrentFileName, err)
	}
	return nil
}

// DeleteVersion removes manifest id. CURRENT is left untouched.
func (s *Store) DeleteVersion(ctx context.Context, versionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.blobs.Delete(ctx, FileName(versionID))
}

// Prune keeps the newest keep manifests and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) error {
	ids, err := s.ListVersions(ctx)
	if err != nil {
		return err
	}
	if len(ids) <= keep {
		return nil
	}
	var errs []error
	for _, id := range ids[:len(ids)-keep] {
		if err := s.DeleteVersion(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
