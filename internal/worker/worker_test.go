package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pubmemory "github.com/hirewire/jobscraper/internal/publisher/memory"
	queuememory "github.com/hirewire/jobscraper/internal/queue/memory"
	"github.com/hirewire/jobscraper/internal/scrape"
	snapmemory "github.com/hirewire/jobscraper/internal/snapshot/memory"
	storememory "github.com/hirewire/jobscraper/internal/store/memory"
	"github.com/hirewire/jobscraper/internal/telemetry"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type stubSession struct {
	status          int
	navErr          error
	navFailuresLeft int
	navAttempts     int
	html            string
}

func (s *stubSession) Navigate(context.Context, string) (int, error) {
	s.navAttempts++
	if s.navFailuresLeft > 0 {
		s.navFailuresLeft--
		return 0, s.navErr
	}
	return s.status, nil
}
func (s *stubSession) InnerText(context.Context, string) (string, error) { return "", nil }

func (s *stubSession) AllTextContents(context.Context, string) ([]string, error) { return nil, nil }

func (s *stubSession) HTML(context.Context) (string, error) { return s.html, nil }

func (s *stubSession) Close() {}

type stubBrowser struct{ session *stubSession }

func (b *stubBrowser) NewSession(context.Context) (scrape.Session, error) {
	return b.session, nil
}

type stubStrategy struct {
	posting      *scrape.Posting
	failuresLeft int
	attempts     int
}

func (s *stubStrategy) Normalize(rawURL string) (string, error) { return rawURL, nil }

func (s *stubStrategy) Scrape(context.Context, scrape.Session) (*scrape.Posting, error) {
	s.attempts++
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return nil, errors.New("page hydration stalled")
	}
	return s.posting, nil
}

type stubResolver struct{ strategy scrape.Strategy }

func (r *stubResolver) Resolve(string) (scrape.Strategy, string, error) {
	return r.strategy, "seek.com", nil
}

type recordingBlobStore struct {
	path        string
	contentType string
}

func (s *recordingBlobStore) PutObject(_ context.Context, path, contentType string, _ []byte) (string, error) {
	s.path = path
	s.contentType = contentType
	return "memory://" + path, nil
}

const fp = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type fixture struct {
	worker    *Worker
	ledger    *storememory.Ledger
	queue     *queuememory.Queue
	publisher *pubmemory.Publisher
	snapshots *snapmemory.BlobStore
	strategy  *stubStrategy
	session   *stubSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	telemetry.Init()

	clock := stubClock{now: time.Unix(1700000000, 0).UTC()}
	ledger := storememory.NewLedger(24*time.Hour, clock)
	queue := queuememory.NewQueue(4)
	publisher := pubmemory.New()
	snapshots := snapmemory.NewBlobStore()
	session := &stubSession{status: 200, html: "<html><body>posting</body></html>"}
	strategy := &stubStrategy{posting: &scrape.Posting{Title: "Backend Engineer", Company: "Acme"}}

	w, err := New(Config{
		Ledger:    ledger,
		Queue:     queue,
		Browser:   &stubBrowser{session: session},
		Resolver:  &stubResolver{strategy: strategy},
		Publisher: publisher,
		Snapshots: snapshots,
		Clock:     clock,
		Logger:    zap.NewNop(),
		Topic:     "scrape-events",
		Retry: scrape.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
			Retryable:   func(error) bool { return true },
		},
	})
	require.NoError(t, err)

	return &fixture{
		worker:    w,
		ledger:    ledger,
		queue:     queue,
		publisher: publisher,
		snapshots: snapshots,
		strategy:  strategy,
		session:   session,
	}
}

func admitTask(t *testing.T, f *fixture) scrape.Task {
	t.Helper()
	ctx := context.Background()
	admitted, err := f.ledger.Admit(ctx, "job-id", "https://seek.com/job/1", fp)
	require.NoError(t, err)
	require.True(t, admitted)
	return scrape.Task{Fingerprint: fp, CanonicalURL: "https://seek.com/job/1", Host: "seek.com"}
}

func TestProcessTaskScrapesAndPersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := admitTask(t, f)

	f.worker.processTask(ctx, task)

	job, err := f.ledger.GetJob(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, scrape.StatusScraped, job.Status)
	require.NotNil(t, job.Payload)
	require.Equal(t, "Backend Engineer", job.Payload.Title)

	snapshotPath := "snapshots/" + fp + "/1700000000.html"
	stored, ok := f.snapshots.Object(snapshotPath)
	require.True(t, ok)
	require.Contains(t, string(stored), "posting")

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	event, ok := msgs[0].Payload.(CompletionEvent)
	require.True(t, ok)
	require.Equal(t, "scraped", event.Status)
	require.Equal(t, "memory://"+snapshotPath, event.SnapshotURI)
}

func TestProcessTaskArchivesGonePosting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := admitTask(t, f)
	f.session.status = 404

	f.worker.processTask(ctx, task)

	job, err := f.ledger.GetJob(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, scrape.StatusScraped, job.Status)
	require.True(t, job.IsArchived)
	require.Zero(t, f.strategy.attempts)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "archived", msgs[0].Payload.(CompletionEvent).Status)
}

func TestProcessTaskRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := admitTask(t, f)
	f.strategy.failuresLeft = 2

	f.worker.processTask(ctx, task)

	job, err := f.ledger.GetJob(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, scrape.StatusScraped, job.Status)
	require.Equal(t, 3, f.strategy.attempts)
}

func TestProcessTaskRetriesNavigationTimeouts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := admitTask(t, f)
	f.session.navErr = fmt.Errorf("navigate %s: %w", task.CanonicalURL, scrape.ErrRenderTimeout)
	f.session.navFailuresLeft = 2

	f.worker.processTask(ctx, task)

	job, err := f.ledger.GetJob(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, scrape.StatusScraped, job.Status)
	require.Equal(t, 3, f.session.navAttempts)
}

func TestProcessTaskFailsWhenNavigationKeepsTimingOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := admitTask(t, f)
	f.session.navErr = fmt.Errorf("navigate %s: %w", task.CanonicalURL, scrape.ErrRenderTimeout)
	f.session.navFailuresLeft = 10

	f.worker.processTask(ctx, task)

	job, err := f.ledger.GetJob(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, scrape.StatusFailed, job.Status)
	require.Equal(t, 3, f.session.navAttempts)
	require.Zero(t, f.strategy.attempts)
}

func TestProcessTaskMarksFailureAfterBudget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := admitTask(t, f)
	f.strategy.failuresLeft = 10

	f.worker.processTask(ctx, task)

	job, err := f.ledger.GetJob(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, scrape.StatusFailed, job.Status)
	require.NotNil(t, job.LastScrapedAt)
	require.Equal(t, 3, f.strategy.attempts)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "failed", msgs[0].Payload.(CompletionEvent).Status)
}

func TestProcessTaskFailsServerErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := admitTask(t, f)
	f.session.status = 503

	f.worker.processTask(ctx, task)

	job, err := f.ledger.GetJob(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, scrape.StatusFailed, job.Status)
	require.False(t, job.IsArchived)
}

func TestStoreSnapshotUsesConfiguredContentType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	blobs := &recordingBlobStore{}
	w, err := New(Config{
		Ledger:              f.ledger,
		Queue:               f.queue,
		Browser:             &stubBrowser{session: f.session},
		Resolver:            &stubResolver{strategy: f.strategy},
		Snapshots:           blobs,
		Clock:               stubClock{now: time.Unix(1700000000, 0).UTC()},
		Logger:              zap.NewNop(),
		SnapshotContentType: "text/html; charset=utf-8",
	})
	require.NoError(t, err)

	uri := w.storeSnapshot(context.Background(), scrape.Task{Fingerprint: fp}, "<html></html>", zap.NewNop())
	require.Equal(t, "memory://snapshots/"+fp+"/1700000000.html", uri)
	require.Equal(t, "snapshots/"+fp+"/1700000000.html", blobs.path)
	require.Equal(t, "text/html; charset=utf-8", blobs.contentType)
}

func TestNewDefaultsSnapshotContentType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.Equal(t, "text/html", f.worker.cfg.SnapshotContentType)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestRunProcessesQueuedTasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task := admitTask(t, f)
	require.NoError(t, f.queue.Enqueue(ctx, task))

	go f.worker.Run(ctx)

	require.Eventually(t, func() bool {
		job, err := f.ledger.GetJob(context.Background(), fp)
		return err == nil && job.Status == scrape.StatusScraped
	}, 2*time.Second, 10*time.Millisecond)
}
