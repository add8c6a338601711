package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malawley/hygiene-pipeline/internal/events"
	"github.com/malawley/hygiene-pipeline/internal/feed"
	"github.com/malawley/hygiene-pipeline/internal/objectstore"
	"github.com/malawley/hygiene-pipeline/internal/telemetry"
)

// fakeFeed serves fixed-size pages until offset exhausts maxRows, then
// returns an empty array, mirroring the happy-path scenario in spec.md §8.
func fakeFeed(t *testing.T, maxRows int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		w.Header().Set("Content-Type", "application/json")
		if offset >= maxRows {
			_, _ = w.Write([]byte("[]"))
			return
		}
		n := limit
		if offset+n > maxRows {
			n = maxRows - offset
		}
		recs := make([]map[string]any, n)
		for i := range recs {
			recs[i] = map[string]any{"id": offset + i}
		}
		data, _ := json.Marshal(recs)
		_, _ = w.Write(data)
	}))
}

// recordingNotifier captures every PipelineEvent sent to it.
type recordingNotifier struct {
	mu   sync.Mutex
	evts []events.PipelineEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, evt events.PipelineEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evts = append(n.evts, evt)
	return nil
}

func (n *recordingNotifier) events() []events.PipelineEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.PipelineEvent, len(n.evts))
	copy(out, n.evts)
	return out
}

func newTestExtractor(t *testing.T, feedURL string, store objectstore.Store, notifier Notifier) *Extractor {
	t.Helper()
	f := feed.NewClient(feedURL)
	metrics := telemetry.NewSink(store, "bucket", "metrics")
	x := New(store, "bucket", "raw-data", f, metrics, notifier)
	x.DelayAfter = 0 // don't actually sleep in tests
	return x
}

func TestHappyPath(t *testing.T) {
	srv := fakeFeed(t, 2000)
	defer srv.Close()

	store := objectstore.NewMemStore()
	notifier := &recordingNotifier{}
	x := newTestExtractor(t, srv.URL, store, notifier)

	req := events.RunRequest{Date: "2025-03-30", MaxOffset: 2000}
	require.NoError(t, x.Run(context.Background(), req))

	exists0, err := store.Exists(context.Background(), "bucket", "raw-data/2025-03-30/offset_0.json")
	require.NoError(t, err)
	assert.True(t, exists0)

	exists1000, err := store.Exists(context.Background(), "bucket", "raw-data/2025-03-30/offset_1000.json")
	require.NoError(t, err)
	assert.True(t, exists1000)

	data, err := store.Get(context.Background(), "bucket", "raw-data/2025-03-30/_manifest.json")
	require.NoError(t, err)
	var m struct {
		Date           string   `json:"date"`
		Files          []string `json:"files"`
		UploadComplete bool     `json:"upload_complete"`
	}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.True(t, m.UploadComplete)
	assert.ElementsMatch(t, []string{"offset_0.json", "offset_1000.json"}, m.Files)

	evts := notifier.events()
	require.Len(t, evts, 2)
	assert.Equal(t, events.ExtractorStarted, evts[0].Event)
	assert.Equal(t, events.ExtractorCompleted, evts[1].Event)
	require.NotNil(t, evts[1].Duration)
}

func TestCheckpointMonotonicityAcrossRuns(t *testing.T) {
	srv := fakeFeed(t, 5000)
	defer srv.Close()

	store := objectstore.NewMemStore()
	x := newTestExtractor(t, srv.URL, store, &recordingNotifier{})

	ctx := context.Background()
	require.NoError(t, x.Run(ctx, events.RunRequest{Date: "2025-03-30", MaxOffset: 1000}))
	first := readCheckpoint(ctx, store, "bucket")
	assert.Equal(t, 1000, first)

	require.NoError(t, x.Run(ctx, events.RunRequest{Date: "2025-03-30", MaxOffset: 1000}))
	second := readCheckpoint(ctx, store, "bucket")
	assert.GreaterOrEqual(t, second, first)
	assert.Equal(t, 2000, second)
}

func TestSimulatedAPIFailureDoesNotAdvanceCheckpoint(t *testing.T) {
	srv := fakeFeed(t, 3000)
	defer srv.Close()

	store := objectstore.NewMemStore()
	x := newTestExtractor(t, srv.URL, store, &recordingNotifier{})

	ctx := context.Background()
	// With api_error_prob=1.0 the API fault gate trips on every chunk
	// (offsets 0 and 1000 before max_offset is reached), so no chunk is
	// ever written and the checkpoint stays at 0.
	req := events.RunRequest{Date: "2025-03-30", MaxOffset: 2000, APIErrorProb: 1.0}
	require.NoError(t, x.Run(ctx, req))

	checkpoint := readCheckpoint(ctx, store, "bucket")
	assert.Equal(t, 0, checkpoint, "checkpoint must not advance on simulated API failures")

	exists, err := store.Exists(ctx, "bucket", "raw-data/2025-03-30/offset_0.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRowDropAccounting(t *testing.T) {
	srv := fakeFeed(t, 1000)
	defer srv.Close()

	store := objectstore.NewMemStore()
	x := newTestExtractor(t, srv.URL, store, &recordingNotifier{})

	ctx := context.Background()
	req := events.RunRequest{Date: "2025-03-30", MaxOffset: 1000, RowDropProb: 1.0}
	require.NoError(t, x.Run(ctx, req))

	data, err := store.Get(ctx, "bucket", "raw-data/2025-03-30/offset_0.json")
	require.NoError(t, err)
	assert.Empty(t, data, "with row_drop_prob=1.0 every record is dropped, leaving an empty chunk")
}

func TestMaxOffsetBounding(t *testing.T) {
	srv := fakeFeed(t, 10000)
	defer srv.Close()

	store := objectstore.NewMemStore()
	x := newTestExtractor(t, srv.URL, store, &recordingNotifier{})

	ctx := context.Background()
	req := events.RunRequest{Date: "2025-03-30", MaxOffset: 2000}
	require.NoError(t, x.Run(ctx, req))

	for _, off := range []int{0, 1000} {
		key := fmt.Sprintf("raw-data/2025-03-30/offset_%d.json", off)
		exists, err := store.Exists(ctx, "bucket", key)
		require.NoError(t, err)
		assert.True(t, exists, "expected chunk at offset %d", off)
	}
	exists, err := store.Exists(ctx, "bucket", "raw-data/2025-03-30/offset_2000.json")
	require.NoError(t, err)
	assert.False(t, exists, "max_offset=2000 must bound the run to two chunks")
}

// failingPutStore wraps a MemStore but fails every chunk write, simulating
// a durable object-store outage (§7 "Durable write failure").
type failingPutStore struct {
	*objectstore.MemStore
}

func (s *failingPutStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	return fmt.Errorf("simulated durable write failure for %s/%s", bucket, key)
}

func TestFetchExhaustsRetriesLeavesManifestUnwritten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := objectstore.NewMemStore()
	notifier := &recordingNotifier{}
	x := newTestExtractor(t, srv.URL, store, notifier)
	x.Feed.InitialBackoff = time.Millisecond
	x.Feed.MaxAttempts = 3

	err := x.Run(context.Background(), events.RunRequest{Date: "2025-03-30"})
	require.Error(t, err, "run must fail once the fetch retry ladder is exhausted")

	_, getErr := store.Get(context.Background(), "bucket", "raw-data/2025-03-30/_manifest.json")
	assert.True(t, objectstore.IsNotExist(getErr), "manifest must stay unwritten when the fetch break is a genuine failure")

	for _, evt := range notifier.events() {
		assert.NotEqual(t, events.ExtractorCompleted, evt.Event, "extractor_completed must not be posted on a failed run")
	}
}

func TestDurableWriteFailureLeavesManifestUnwritten(t *testing.T) {
	srv := fakeFeed(t, 2000)
	defer srv.Close()

	store := &failingPutStore{MemStore: objectstore.NewMemStore()}
	notifier := &recordingNotifier{}
	x := newTestExtractor(t, srv.URL, store, notifier)

	err := x.Run(context.Background(), events.RunRequest{Date: "2025-03-30", MaxOffset: 2000})
	require.Error(t, err, "run must fail when the chunk write itself fails durably")

	_, getErr := store.Get(context.Background(), "bucket", "raw-data/2025-03-30/_manifest.json")
	assert.True(t, objectstore.IsNotExist(getErr), "manifest must stay unwritten when the chunk write break is a genuine failure")

	for _, evt := range notifier.events() {
		assert.NotEqual(t, events.ExtractorCompleted, evt.Event, "extractor_completed must not be posted on a failed run")
	}
}

func TestShutdownFlagStopsLoop(t *testing.T) {
	srv := fakeFeed(t, 1_000_000)
	defer srv.Close()

	store := objectstore.NewMemStore()
	x := newTestExtractor(t, srv.URL, store, &recordingNotifier{})
	x.ShutdownSig.Set()

	require.NoError(t, x.Run(context.Background(), events.RunRequest{Date: "2025-03-30"}))

	exists, err := store.Exists(context.Background(), "bucket", "raw-data/2025-03-30/offset_0.json")
	require.NoError(t, err)
	assert.False(t, exists, "shutdown flag set before any chunk must stop before the first write")
}
