package s3

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contents"
	"github.com/hupe1980/contents/blobstore"
	"github.com/hupe1980/contents/internal/manifest"
)

// fakeDDB keeps commit table items per partition and version.
type fakeDDB struct {
	mu    sync.Mutex
	parts map[string]map[uint64]map[string]types.AttributeValue
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{parts: map[string]map[uint64]map[string]types.AttributeValue{}}
}

func (f *fakeDDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	uri := in.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version, err := strconv.ParseUint(in.Item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	part := f.parts[uri]
	if part == nil {
		part = map[uint64]map[string]types.AttributeValue{}
		f.parts[uri] = part
	}
	if _, ok := part[version]; ok && aws.ToString(in.ConditionExpression) == "attribute_not_exists(version)" {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("version exists")}
	}
	part[version] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	uri := in.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	f.mu.Lock()
	defer f.mu.Unlock()
	versions := slices.Sorted(maps.Keys(f.parts[uri]))
	if !aws.ToBool(in.ScanIndexForward) {
		slices.Reverse(versions)
	}
	if in.Limit != nil {
		versions = versions[:min(len(versions), int(*in.Limit))]
	}
	out := &dynamodb.QueryOutput{}
	for _, v := range versions {
		out.Items = append(out.Items, f.parts[uri][v])
	}
	return out, nil
}

func (f *fakeDDB) versions(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.parts[uri])
}

func newTestDDBCommitStore(bucket *fakeS3, ddb *fakeDDB, baseURI string) *DDBCommitStore {
	return NewDDBCommitStore(NewStore(bucket, "test-bucket", "index/"), ddb, "contents-commits", baseURI)
}

func TestDDBCommitStore_ManifestHistory(t *testing.T) {
	ctx := context.Background()
	bucket, ddb := newFakeS3(), newFakeDDB()
	store := newTestDDBCommitStore(bucket, ddb, "s3://test-bucket/index")
	manifests := manifest.NewStore(store)

	_, err := manifests.Load(ctx)
	require.ErrorIs(t, err, manifest.ErrNotFound)

	m := manifest.New()
	for i := range 3 {
		m.NextSegmentID = uint64(i + 2)
		require.NoError(t, manifests.Save(ctx, m))
	}

	got, err := manifests.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.ID)
	assert.Equal(t, uint64(4), got.NextSegmentID)

	// Manifest files live in S3, the CURRENT history in DynamoDB.
	assert.Equal(t, 3, ddb.versions("s3://test-bucket/index"))
	assert.Equal(t, []string{
		"index/MANIFEST-000001.json",
		"index/MANIFEST-000002.json",
		"index/MANIFEST-000003.json",
	}, bucket.keys())

	ids, err := manifests.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestDDBCommitStore_CurrentPointer(t *testing.T) {
	ctx := context.Background()
	store := newTestDDBCommitStore(newFakeS3(), newFakeDDB(), "s3://test-bucket/index")

	_, err := store.Open(ctx, CurrentName)
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, CurrentName, []byte("MANIFEST-000007.json")))
	content, err := blobstore.Get(ctx, store, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000007.json", string(content))

	// CURRENT cannot be deleted; its history stays in the table.
	require.NoError(t, store.Delete(ctx, CurrentName))
	content, err = blobstore.Get(ctx, store, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000007.json", string(content))
}

func TestDDBCommitStore_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	bucket, ddb := newFakeS3(), newFakeDDB()
	store := newTestDDBCommitStore(bucket, ddb, "s3://test-bucket/index")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
		conflicts int
	)
	for i := range 10 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := store.Put(ctx, CurrentName, fmt.Appendf(nil, "MANIFEST-%06d.json", id+1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				committed++
			case errors.Is(err, ErrConcurrentModification):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, committed+conflicts)
	assert.Equal(t, committed, ddb.versions("s3://test-bucket/index"))
}

func TestDDBCommitStore_IndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	bucket, ddb := newFakeS3(), newFakeDDB()
	open := func() *contents.Index {
		idx, err := contents.Open(ctx,
			contents.WithBlobStore(newTestDDBCommitStore(bucket, ddb, "s3://test-bucket/index")),
			contents.WithMergeInterval(-1),
		)
		require.NoError(t, err)
		return idx
	}

	idx := open()
	for _, id := range []string{"a", "b", "c"} {
		_, err := idx.SetEntity(ctx, []byte(id), []byte("meta-"+id), contents.Map{
			Type:  contents.BlockCount,
			Pairs: map[string][]byte{"term": contents.EncodeCount(1)},
		})
		require.NoError(t, err)
	}
	require.NoError(t, idx.Close(ctx))

	idx = open()
	defer idx.Close(ctx)

	e, err := idx.GetEntity([]byte("b"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("meta-b"), e.Extras())

	c, err := idx.GetKeyBlock([]byte("term"))
	require.NoError(t, err)
	assert.Len(t, contents.Collect(c), 3)
}

func TestDDBCommitStore_IsolatedNamespaces(t *testing.T) {
	ctx := context.Background()
	bucket, ddb := newFakeS3(), newFakeDDB()
	first := newTestDDBCommitStore(bucket, ddb, "s3://test-bucket/first")
	second := newTestDDBCommitStore(bucket, ddb, "s3://test-bucket/second")

	require.NoError(t, first.Put(ctx, CurrentName, []byte("MANIFEST-000001.json")))

	_, err := second.Open(ctx, CurrentName)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	content, err := blobstore.Get(ctx, first, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000001.json", string(content))
}
