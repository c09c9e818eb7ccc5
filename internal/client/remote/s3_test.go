package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
)

type memObject struct {
	body     []byte
	meta     map[string]string
	etag     string
	modified time.Time
}

// memS3 is an in-memory bucket with conditional puts.
type memS3 struct {
	mu      sync.Mutex
	objects map[string]memObject
	n       int
	now     time.Time
	// step advances now after every applied put.
	step time.Duration

	headBucketErr error
	putErr        error
	// beforePut runs just before a put is applied, to simulate a racing writer.
	beforePut func()
}

func newMemS3() *memS3 {
	return &memS3{objects: map[string]memObject{}, now: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, m.headBucketErr
}

func (m *memS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ETag: aws.String(o.etag), Metadata: o.meta}, nil
}

func (m *memS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.body)), Metadata: o.meta, ETag: aws.String(o.etag)}, nil
}

func (m *memS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.beforePut != nil {
		hook := m.beforePut
		m.beforePut = nil
		hook()
	}
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := aws.ToString(in.Key)
	cur, exists := m.objects[key]
	if in.IfNoneMatch != nil && exists {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "exists"}
	}
	if in.IfMatch != nil && (!exists || cur.etag != aws.ToString(in.IfMatch)) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "etag"}
	}
	m.n++
	m.objects[key] = memObject{body: body, meta: in.Metadata, etag: fmt.Sprintf(`"%d"`, m.n), modified: m.now}
	m.now = m.now.Add(m.step)
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if len(k) >= len(aws.ToString(in.Prefix)) && k[:len(aws.ToString(in.Prefix))] == aws.ToString(in.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		mod := m.objects[k].modified
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k), LastModified: &mod})
	}
	return out, nil
}

func newTestS3(t *testing.T) (*S3Authority, *memS3) {
	t.Helper()
	mem := newMemS3()
	mem.step = time.Second
	a := newS3Authority(mem, S3Config{Bucket: "ward", Prefix: "sync/", PullSkew: 1500 * time.Millisecond}, "tablet-1")
	return a, mem
}

func rec(id, body string, rev int64) models.Record {
	return models.Record{EntityType: "orders", ID: id, Payload: json.RawMessage(body), LocalRevision: rev,
		UpdatedAt: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func TestS3_PushCreatesCompressedObject(t *testing.T) {
	a, mem := newTestS3(t)
	ctx := context.Background()

	ack, err := a.Push(ctx, PushRequest{Record: rec("o1", `{"drug":"heparin"}`, 1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ack.Revision)
	assert.Positive(t, ack.Version)

	obj, ok := mem.objects["sync/orders/o1"]
	require.True(t, ok)
	raw, err := snappy.Decode(nil, obj.body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "heparin")
	assert.Equal(t, fmt.Sprint(ack.Version), obj.meta["version"])
}

func TestS3_PushChecksBaseVersion(t *testing.T) {
	a, _ := newTestS3(t)
	ctx := context.Background()

	first, err := a.Push(ctx, PushRequest{Record: rec("o1", `{"v":1}`, 1)})
	require.NoError(t, err)

	second, err := a.Push(ctx, PushRequest{Record: rec("o1", `{"v":2}`, 2), BaseVersion: first.Version})
	require.NoError(t, err)
	assert.Greater(t, second.Version, first.Version)

	// A writer still based on the first version conflicts.
	_, err = a.Push(ctx, PushRequest{Record: rec("o1", `{"v":"stale"}`, 7), BaseVersion: first.Version})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, second.Version, ce.Remote.Version)
	assert.JSONEq(t, `{"v":2}`, string(ce.Remote.Payload))
}

func TestS3_PushRaceBecomesConflict(t *testing.T) {
	a, mem := newTestS3(t)
	ctx := context.Background()

	mem.beforePut = func() {
		other := newS3Authority(mem, a.cfg, "tablet-2")
		_, err := other.Push(ctx, PushRequest{Record: rec("o1", `{"by":"other"}`, 1)})
		require.NoError(t, err)
	}

	_, err := a.Push(ctx, PushRequest{Record: rec("o1", `{"by":"me"}`, 1)})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.JSONEq(t, `{"by":"other"}`, string(ce.Remote.Payload))
	assert.Equal(t, "tablet-2", ce.Remote.Origin)
}

func TestS3_PushVersionCountsWrites(t *testing.T) {
	a, _ := newTestS3(t)
	ctx := context.Background()

	first, err := a.Push(ctx, PushRequest{Record: rec("o1", `{"v":1}`, 1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	other := newS3Authority(a.client, a.cfg, "tablet-2")
	second, err := other.Push(ctx, PushRequest{Record: rec("o1", `{"v":2}`, 4), BaseVersion: first.Version})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
}

func TestS3_PullSinceOrdered(t *testing.T) {
	a, _ := newTestS3(t)
	ctx := context.Background()

	var versions []int64
	for _, id := range []string{"o2", "o1", "o3"} {
		ack, err := a.Push(ctx, PushRequest{Record: rec(id, `{}`, 1)})
		require.NoError(t, err)
		versions = append(versions, ack.Version)
	}
	tomb := rec("o2", ``, 2)
	tomb.Deleted = true
	_, err := a.Push(ctx, PushRequest{Record: tomb, BaseVersion: versions[0]})
	require.NoError(t, err)

	all, err := a.Pull(ctx, "orders", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"o1", "o3", "o2"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.True(t, all[2].Deleted)
	assert.Nil(t, all[2].Payload)
	assert.Equal(t, int64(2), all[2].Version)
	assert.Less(t, all[0].Position(), all[1].Position())
	assert.Less(t, all[1].Position(), all[2].Position())

	// o3 is one second behind the cursor and falls inside the replay window.
	newer, err := a.Pull(ctx, "orders", all[2].Position(), 10)
	require.NoError(t, err)
	require.Len(t, newer, 2)
	assert.Equal(t, []string{"o3", "o2"}, []string{newer[0].ID, newer[1].ID})

	limited, err := a.Pull(ctx, "orders", 0, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, []string{"o1", "o3"}, []string{limited[0].ID, limited[1].ID})

	none, err := a.Pull(ctx, "patients", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestS3_PullSeesWriterWithSlowClock(t *testing.T) {
	mem := newMemS3()
	mem.step = time.Second
	cfg := S3Config{Bucket: "ward", Prefix: "sync/", PullSkew: time.Second}
	fast := newS3Authority(mem, cfg, "tablet-fast")
	slow := newS3Authority(mem, cfg, "tablet-slow")
	reader := newS3Authority(mem, cfg, "tablet-reader")
	ctx := context.Background()

	early := rec("o1", `{"by":"fast"}`, 1)
	early.UpdatedAt = time.Date(2025, 8, 1, 12, 0, 2, 0, time.UTC)
	_, err := fast.Push(ctx, PushRequest{Record: early})
	require.NoError(t, err)

	first, err := reader.Pull(ctx, "orders", 0, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)
	cursor := first[0].Position()

	// The slow device stamps its write well before the first one.
	late := rec("o2", `{"by":"slow"}`, 1)
	late.UpdatedAt = time.Date(2025, 8, 1, 12, 0, 1, 0, time.UTC)
	_, err = slow.Push(ctx, PushRequest{Record: late})
	require.NoError(t, err)

	next, err := reader.Pull(ctx, "orders", cursor, 0)
	require.NoError(t, err)
	var ids []string
	for _, r := range next {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "o2")
	assert.Greater(t, next[len(next)-1].Position(), cursor)
}

func TestS3_PullReplaysLateCommit(t *testing.T) {
	a, mem := newTestS3(t)
	ctx := context.Background()

	_, err := a.Push(ctx, PushRequest{Record: rec("o1", `{}`, 1)})
	require.NoError(t, err)
	got, err := a.Pull(ctx, "orders", 0, 0)
	require.NoError(t, err)
	cursor := got[0].Position()

	// A put that started before the pull commits with an older LastModified.
	mem.now = time.Unix(0, cursor).Add(-time.Second)
	_, err = a.Push(ctx, PushRequest{Record: rec("o2", `{}`, 1)})
	require.NoError(t, err)

	again, err := a.Pull(ctx, "orders", cursor, 0)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, "o2", again[0].ID)

	// Outside the window nothing is replayed.
	mem.now = time.Unix(0, cursor).Add(time.Hour)
	_, err = a.Push(ctx, PushRequest{Record: rec("o3", `{}`, 1)})
	require.NoError(t, err)
	last, err := a.Pull(ctx, "orders", time.Unix(0, cursor).Add(time.Hour).UnixNano(), 0)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "o3", last[0].ID)
}

func TestS3_Ping(t *testing.T) {
	a, mem := newTestS3(t)
	require.NoError(t, a.Ping(context.Background()))

	mem.headBucketErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "nope"}
	require.ErrorIs(t, a.Ping(context.Background()), ErrUnauthorized)
}

func TestClassifyS3(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"denied", &smithy.GenericAPIError{Code: "AccessDenied"}, ErrUnauthorized},
		{"expired", &smithy.GenericAPIError{Code: "ExpiredToken"}, ErrUnauthorized},
		{"no bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, ErrRejected},
		{"too large", &smithy.GenericAPIError{Code: "EntityTooLarge"}, ErrRejected},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, ErrTransient},
		{"network", errors.New("dial tcp: connection refused"), ErrTransient},
		{"ctx", context.Canceled, ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, classifyS3(tt.in), tt.want)
		})
	}
}

func TestS3_PutFailureClassified(t *testing.T) {
	a, mem := newTestS3(t)
	mem.putErr = &smithy.GenericAPIError{Code: "InternalError"}
	_, err := a.Push(context.Background(), PushRequest{Record: rec("o1", `{}`, 1)})
	require.ErrorIs(t, err, ErrTransient)
}
