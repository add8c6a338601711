package trigger

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malawley/hygiene-pipeline/internal/events"
)

// recordingDispatcher captures every dispatch so tests can assert on
// forward counts and destinations without standing up real HTTP servers.
type recordingDispatcher struct {
	mu       sync.Mutex
	calls    []string // urls dispatched to, in order
	payloads []any
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, url string, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, url)
	d.payloads = append(d.payloads, payload)
	return nil
}

func (d *recordingDispatcher) count(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, u := range d.calls {
		if u == url {
			n++
		}
	}
	return n
}

func newTestTrigger(t *testing.T) (*Trigger, *recordingDispatcher) {
	t.Helper()
	services := ServiceURLs{
		Extractor:     Endpoint{URL: "http://extractor.local"},
		Cleaner:       Endpoint{URL: "http://cleaner.local"},
		Loader:        Endpoint{URL: "http://loader-json.local"},
		LoaderParquet: Endpoint{URL: "http://loader-parquet.local"},
	}
	disp := &recordingDispatcher{}
	tr := New(services, false, t.TempDir())
	tr.Dispatcher = disp
	t.Cleanup(tr.Cache.Stop)
	return tr, disp
}

func TestDuplicateCompletionForwardsExactlyOnce(t *testing.T) {
	tr, disp := newTestTrigger(t)
	evt := events.PipelineEvent{Event: events.ExtractorCompleted, Date: "2025-03-30"}

	status1, _ := tr.HandleEvent(context.Background(), evt)
	status2, _ := tr.HandleEvent(context.Background(), evt)

	assert.Equal(t, http.StatusOK, status1)
	assert.Equal(t, http.StatusOK, status2)
	assert.Equal(t, 1, disp.count(tr.Services.Cleaner.URL), "duplicate completion events must forward exactly once")
}

func TestPurgeTreatsRepostAsFresh(t *testing.T) {
	tr, disp := newTestTrigger(t)
	evt := events.PipelineEvent{Event: events.LoaderParquetCompleted, Date: "2025-03-30"}

	_, _ = tr.HandleEvent(context.Background(), evt)
	_, _ = tr.HandleEvent(context.Background(), evt)

	tr.Cache.Purge()

	_, _ = tr.HandleEvent(context.Background(), evt)

	// loader_parquet_completed is terminal and never forwards, so assert
	// on the dedup outcome indirectly via a forwarding event instead.
	fwdEvt := events.PipelineEvent{Event: events.ExtractorCompleted, Date: "2025-03-30"}
	_, _ = tr.HandleEvent(context.Background(), fwdEvt)
	_, _ = tr.HandleEvent(context.Background(), fwdEvt)
	require.Equal(t, 1, disp.count(tr.Services.Cleaner.URL))

	tr.Cache.Purge()
	_, _ = tr.HandleEvent(context.Background(), fwdEvt)
	assert.Equal(t, 2, disp.count(tr.Services.Cleaner.URL), "purge then repost must be treated as a fresh event")
}

func TestRoutingTableDirectParquetPath(t *testing.T) {
	tr, disp := newTestTrigger(t)
	tr.EnableJSONLoader = false

	evt := events.PipelineEvent{Event: events.CleanerCompleted, Date: "2025-03-30"}
	_, _ = tr.HandleEvent(context.Background(), evt)

	assert.Equal(t, 1, disp.count(tr.Services.LoaderParquet.URL))
	assert.Equal(t, 0, disp.count(tr.Services.Loader.URL))
}

func TestRoutingTableJSONLoaderBranch(t *testing.T) {
	tr, disp := newTestTrigger(t)
	tr.EnableJSONLoader = true

	cleanerDone := events.PipelineEvent{Event: events.CleanerCompleted, Date: "2025-03-30"}
	_, _ = tr.HandleEvent(context.Background(), cleanerDone)
	assert.Equal(t, 1, disp.count(tr.Services.Loader.URL))
	assert.Equal(t, 0, disp.count(tr.Services.LoaderParquet.URL))

	jsonDone := events.PipelineEvent{Event: events.LoaderJSONCompleted, Date: "2025-03-30"}
	_, _ = tr.HandleEvent(context.Background(), jsonDone)
	assert.Equal(t, 1, disp.count(tr.Services.LoaderParquet.URL))
}

func TestExtractorStartedIsNoopRoute(t *testing.T) {
	tr, disp := newTestTrigger(t)
	evt := events.PipelineEvent{Event: events.ExtractorStarted, Date: "2025-03-30"}

	status, _ := tr.HandleEvent(context.Background(), evt)

	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, disp.calls, "extractor_started carries no forwarding action")
}

func TestForwardRunClampsProbabilities(t *testing.T) {
	tr, disp := newTestTrigger(t)
	req := events.RunRequest{Date: "2025-03-30", APIErrorProb: 5.0, RowDropProb: -1.0}

	require.NoError(t, tr.ForwardRun(context.Background(), req))
	require.Equal(t, 1, disp.count(tr.Services.Extractor.URL))

	sent := disp.payloads[0].(events.RunRequest)
	assert.Equal(t, 1.0, sent.APIErrorProb)
	assert.Equal(t, 0.0, sent.RowDropProb)
}
