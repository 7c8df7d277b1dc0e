package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semantic-explorer/viz-worker/pkg/broker"
	"github.com/semantic-explorer/viz-worker/pkg/log"
	"github.com/semantic-explorer/viz-worker/pkg/pipeline"
	"github.com/semantic-explorer/viz-worker/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	os.Exit(m.Run())
}

// fakeMsg is a broker message with recorded acknowledgement state.
type fakeMsg struct {
	data    []byte
	headers nats.Header
	acked   atomic.Bool
	naked   atomic.Bool
}

func (m *fakeMsg) Data() []byte         { return m.data }
func (m *fakeMsg) Headers() nats.Header { return m.headers }
func (m *fakeMsg) Ack() error           { m.acked.Store(true); return nil }
func (m *fakeMsg) Nak() error           { m.naked.Store(true); return nil }

// scriptedFetcher returns each batch once, then reports empty timeouts.
type scriptedFetcher struct {
	mu      sync.Mutex
	batches [][]broker.Message
	errs    []error
	empty   atomic.Int32
}

func (f *scriptedFetcher) Fetch(batch int, timeout time.Duration) ([]broker.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		return b, nil
	}
	f.empty.Add(1)
	time.Sleep(time.Millisecond)
	return nil, nil
}

// memPublisher records everything published per subject.
type memPublisher struct {
	mu       sync.Mutex
	messages []published
	failAll  bool
}

type published struct {
	subject string
	data    []byte
}

func (p *memPublisher) Publish(subject string, data []byte) error {
	if p.failAll {
		return fmt.Errorf("publish refused")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{subject, data})
	return nil
}

func (p *memPublisher) bySubject(subject string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, m := range p.messages {
		if m.subject == subject {
			out = append(out, m.data)
		}
	}
	return out
}

// stubProcessor returns a canned output or error.
type stubProcessor struct {
	out   *pipeline.Output
	err   error
	delay time.Duration

	mu      sync.Mutex
	current int
	peak    int
}

func (p *stubProcessor) Run(ctx context.Context, job *types.Job, rep pipeline.Reporter) (*pipeline.Output, error) {
	p.mu.Lock()
	p.current++
	if p.current > p.peak {
		p.peak = p.current
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.current--
		p.mu.Unlock()
	}()

	rep.Progress("fetching_vectors", 5)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.out, p.err
}

type stubUploader struct {
	key string
	err error
}

func (u *stubUploader) UploadVisualization(ctx context.Context, owner string, transformID, visualizationID int64, html []byte) (string, error) {
	return u.key, u.err
}

func jobBody(t *testing.T) []byte {
	t.Helper()
	job := map[string]any{
		"job_id":                     uuid.NewString(),
		"visualization_transform_id": 42,
		"visualization_id":           100,
		"owner_id":                   "u1",
		"embedded_dataset_id":        7,
		"qdrant_collection_name":     "docs",
	}
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return data
}

// runWorker runs the loop until the fetcher is exhausted and every
// dispatched handler has finished.
func runWorker(t *testing.T, w *Worker, f *scriptedFetcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return f.empty.Load() > 0 }, 4*time.Second, time.Millisecond)
	require.True(t, w.Drain())
	cancel()
	<-done
}

func TestHandleHappyPath(t *testing.T) {
	msg := &fakeMsg{data: jobBody(t)}
	pub := &memPublisher{}
	proc := &stubProcessor{out: &pipeline.Output{
		HTML:         []byte("<html></html>"),
		PointCount:   500,
		ClusterCount: 3,
		Stats:        map[string]any{"unique_clusters": 3},
	}}

	fetcher := &scriptedFetcher{batches: [][]broker.Message{{msg}}}
	w := New(Options{
		Fetcher:   fetcher,
		Publisher: pub,
		Processor: proc,
		Uploader:  &stubUploader{key: "visualizations/42/visualization-2026-08-24T10:00:00Z.html"},
	})
	runWorker(t, w, fetcher)

	assert.True(t, msg.acked.Load())
	assert.False(t, msg.naked.Load())

	envelopes := pub.bySubject("transforms.visualization.status.u1.7.42")
	require.NotEmpty(t, envelopes)

	var terminal map[string]any
	require.NoError(t, json.Unmarshal(envelopes[len(envelopes)-1], &terminal))
	assert.Equal(t, "success", terminal["status"])
	assert.Equal(t, float64(500), terminal["pointCount"])
	assert.Equal(t, float64(3), terminal["clusterCount"])
	assert.Contains(t, terminal["htmlS3Key"], "visualizations/42/")
	assert.NotContains(t, terminal, "errorMessage")

	var first map[string]any
	require.NoError(t, json.Unmarshal(envelopes[0], &first))
	assert.Equal(t, "processing", first["status"])
	stats := first["statsJson"].(map[string]any)
	assert.Equal(t, "starting", stats["stage"])
	assert.Equal(t, float64(0), stats["progress_percent"])
}

func TestHandlePoisonPill(t *testing.T) {
	msg := &fakeMsg{data: []byte("{not json")}
	pub := &memPublisher{}

	fetcher := &scriptedFetcher{batches: [][]broker.Message{{msg}}}
	w := New(Options{
		Fetcher:   fetcher,
		Publisher: pub,
		Processor: &stubProcessor{},
		Uploader:  &stubUploader{},
	})
	runWorker(t, w, fetcher)

	assert.True(t, msg.acked.Load())
	assert.False(t, msg.naked.Load())
	assert.Empty(t, pub.messages)
}

func TestHandleValidationFailureIsAckedSilently(t *testing.T) {
	body, err := json.Marshal(map[string]any{
		"job_id":                     uuid.NewString(),
		"visualization_transform_id": -1,
	})
	require.NoError(t, err)
	msg := &fakeMsg{data: body}
	pub := &memPublisher{}

	fetcher := &scriptedFetcher{batches: [][]broker.Message{{msg}}}
	w := New(Options{
		Fetcher:   fetcher,
		Publisher: pub,
		Processor: &stubProcessor{},
		Uploader:  &stubUploader{},
	})
	runWorker(t, w, fetcher)

	assert.True(t, msg.acked.Load())
	assert.Empty(t, pub.messages)
}

func TestHandlePipelineFailurePublishesFailedAndAcks(t *testing.T) {
	msg := &fakeMsg{data: jobBody(t)}
	pub := &memPublisher{}
	proc := &stubProcessor{err: types.NewJobError(types.KindVectorStore, fmt.Errorf("scroll: connection refused"))}

	fetcher := &scriptedFetcher{batches: [][]broker.Message{{msg}}}
	w := New(Options{
		Fetcher:   fetcher,
		Publisher: pub,
		Processor: proc,
		Uploader:  &stubUploader{},
	})
	runWorker(t, w, fetcher)

	assert.True(t, msg.acked.Load())
	assert.False(t, msg.naked.Load())

	envelopes := pub.bySubject("transforms.visualization.status.u1.7.42")
	require.NotEmpty(t, envelopes)

	var terminal map[string]any
	require.NoError(t, json.Unmarshal(envelopes[len(envelopes)-1], &terminal))
	assert.Equal(t, "failed", terminal["status"])
	assert.Contains(t, terminal["errorMessage"], "vector_store_error")
	assert.NotContains(t, terminal, "htmlS3Key")
}

func TestHandleTimeoutMessageMentionsTimeout(t *testing.T) {
	msg := &fakeMsg{data: jobBody(t)}
	pub := &memPublisher{}
	proc := &stubProcessor{err: types.NewJobError(types.KindTimeout, fmt.Errorf("processing budget exceeded"))}

	fetcher := &scriptedFetcher{batches: [][]broker.Message{{msg}}}
	w := New(Options{
		Fetcher:   fetcher,
		Publisher: pub,
		Processor: proc,
		Uploader:  &stubUploader{},
	})
	runWorker(t, w, fetcher)

	assert.True(t, msg.acked.Load())

	envelopes := pub.bySubject("transforms.visualization.status.u1.7.42")
	var terminal map[string]any
	require.NoError(t, json.Unmarshal(envelopes[len(envelopes)-1], &terminal))
	assert.Contains(t, terminal["errorMessage"], "timeout")
}

func TestHandleUnexpectedFailureNaks(t *testing.T) {
	msg := &fakeMsg{data: jobBody(t)}
	proc := &stubProcessor{err: fmt.Errorf("nil pointer somewhere")}

	fetcher := &scriptedFetcher{batches: [][]broker.Message{{msg}}}
	w := New(Options{
		Fetcher:   fetcher,
		Publisher: &memPublisher{},
		Processor: proc,
		Uploader:  &stubUploader{},
	})
	runWorker(t, w, fetcher)

	assert.False(t, msg.acked.Load())
	assert.True(t, msg.naked.Load())
}

func TestHandleUploadFailure(t *testing.T) {
	msg := &fakeMsg{data: jobBody(t)}
	pub := &memPublisher{}
	proc := &stubProcessor{out: &pipeline.Output{HTML: []byte("<html></html>")}}

	fetcher := &scriptedFetcher{batches: [][]broker.Message{{msg}}}
	w := New(Options{
		Fetcher:   fetcher,
		Publisher: pub,
		Processor: proc,
		Uploader:  &stubUploader{err: fmt.Errorf("put object: access denied")},
	})
	runWorker(t, w, fetcher)

	assert.True(t, msg.acked.Load())

	envelopes := pub.bySubject("transforms.visualization.status.u1.7.42")
	var terminal map[string]any
	require.NoError(t, json.Unmarshal(envelopes[len(envelopes)-1], &terminal))
	assert.Equal(t, "failed", terminal["status"])
	assert.Contains(t, terminal["errorMessage"], "upload_error")
}

func TestTerminalPublishFailureNaks(t *testing.T) {
	msg := &fakeMsg{data: jobBody(t)}
	proc := &stubProcessor{out: &pipeline.Output{HTML: []byte("<html></html>")}}

	fetcher := &scriptedFetcher{batches: [][]broker.Message{{msg}}}
	w := New(Options{
		Fetcher:   fetcher,
		Publisher: &memPublisher{failAll: true},
		Processor: proc,
		Uploader:  &stubUploader{key: "k"},
	})
	runWorker(t, w, fetcher)

	assert.False(t, msg.acked.Load())
	assert.True(t, msg.naked.Load())
}

func TestMaxInFlightIsRespected(t *testing.T) {
	msgs := make([]broker.Message, 8)
	for i := range msgs {
		msgs[i] = &fakeMsg{data: jobBody(t)}
	}
	proc := &stubProcessor{
		out:   &pipeline.Output{HTML: []byte("<html></html>")},
		delay: 20 * time.Millisecond,
	}

	fetcher := &scriptedFetcher{batches: [][]broker.Message{msgs}}
	w := New(Options{
		Fetcher:     fetcher,
		Publisher:   &memPublisher{},
		Processor:   proc,
		Uploader:    &stubUploader{key: "k"},
		MaxInFlight: 3,
	})
	runWorker(t, w, fetcher)

	assert.LessOrEqual(t, proc.peak, 3)
	for _, m := range msgs {
		assert.True(t, m.(*fakeMsg).acked.Load())
	}
}

func TestTransientFetchErrorsBackOff(t *testing.T) {
	msg := &fakeMsg{data: jobBody(t)}
	fetcher := &scriptedFetcher{
		errs: []error{
			&broker.TransientError{Err: nats.ErrNoResponders, Consecutive: 1},
		},
		batches: [][]broker.Message{{msg}},
	}
	proc := &stubProcessor{out: &pipeline.Output{HTML: []byte("<html></html>")}}

	w := New(Options{
		Fetcher:   fetcher,
		Publisher: &memPublisher{},
		Processor: proc,
		Uploader:  &stubUploader{key: "k"},
	})

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return msg.acked.Load() }, 4*time.Second, 10*time.Millisecond)
	// One transient error with a consecutive count of 1 waits 2s.
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	cancel()
	<-done
}
