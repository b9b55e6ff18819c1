package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cachememory "github.com/hirewire/jobscraper/internal/cache/memory"
	"github.com/hirewire/jobscraper/internal/hash/sha256"
	"github.com/hirewire/jobscraper/internal/id/uuid"
	queuememory "github.com/hirewire/jobscraper/internal/queue/memory"
	"github.com/hirewire/jobscraper/internal/scrape"
	"github.com/hirewire/jobscraper/internal/scraper"
	storememory "github.com/hirewire/jobscraper/internal/store/memory"
	"github.com/hirewire/jobscraper/internal/telemetry"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

// flakyCache wraps a DedupCache with injectable failures.
type flakyCache struct {
	inner   scrape.DedupCache
	seenErr error
	markErr error
}

func (c *flakyCache) Seen(ctx context.Context, fp string) (bool, error) {
	if c.seenErr != nil {
		return false, c.seenErr
	}
	return c.inner.Seen(ctx, fp)
}

func (c *flakyCache) Mark(ctx context.Context, fp string) error {
	if c.markErr != nil {
		return c.markErr
	}
	return c.inner.Mark(ctx, fp)
}

type fixture struct {
	dispatcher *Dispatcher
	queue      *queuememory.Queue
	ledger     *storememory.Ledger
	cache      *flakyCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	telemetry.Init()

	clock := stubClock{now: time.Unix(1700000000, 0).UTC()}
	ledger := storememory.NewLedger(24*time.Hour, clock)
	cache := &flakyCache{inner: cachememory.NewCache(time.Hour, clock)}
	queue := queuememory.NewQueue(16)

	d, err := New(Config{
		Resolver:      scraper.NewRegistry(map[string]scrape.Strategy{scraper.SeekHost: scraper.NewSeek()}),
		Fingerprinter: sha256.New(),
		Cache:         cache,
		Ledger:        ledger,
		Queue:         queue,
		IDGenerator:   uuid.New(),
		Clock:         clock,
		Logger:        zap.NewNop(),
	})
	require.NoError(t, err)

	return &fixture{dispatcher: d, queue: queue, ledger: ledger, cache: cache}
}

func TestAdmitQueuesNewURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	admission, err := f.dispatcher.Admit(ctx, "https://www.seek.com/job/12345?utm_source=alert")
	require.NoError(t, err)
	require.True(t, admission.Queued)
	require.Equal(t, "https://seek.com/job/12345", admission.CanonicalURL)
	require.Len(t, admission.Fingerprint, 64)

	task, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, admission.Fingerprint, task.Fingerprint)
	require.Equal(t, "https://seek.com/job/12345", task.CanonicalURL)
	require.Equal(t, scraper.SeekHost, task.Host)

	job, err := f.ledger.GetJob(ctx, admission.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, scrape.StatusQueued, job.Status)
}

func TestAdmitDeduplicatesVariantURLs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.dispatcher.Admit(ctx, "https://seek.com/job/12345")
	require.NoError(t, err)
	require.True(t, first.Queued)

	// Same posting through a tracking-decorated variant.
	second, err := f.dispatcher.Admit(ctx, "https://WWW.seek.com/job/12345/?utm_campaign=feed&fbclid=abc")
	require.NoError(t, err)
	require.False(t, second.Queued)
	require.Equal(t, first.Fingerprint, second.Fingerprint)

	// Only one task on the queue.
	_, err = f.queue.Dequeue(ctx)
	require.NoError(t, err)
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.queue.Dequeue(shortCtx)
	require.Error(t, err)
}

func TestAdmitSurvivesCacheOutage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.cache.seenErr = errors.New("redis down")
	f.cache.markErr = errors.New("redis down")

	admission, err := f.dispatcher.Admit(ctx, "https://seek.com/job/12345")
	require.NoError(t, err)
	require.True(t, admission.Queued)

	// The ledger still blocks the duplicate even with the cache dark.
	repeat, err := f.dispatcher.Admit(ctx, "https://seek.com/job/12345")
	require.NoError(t, err)
	require.False(t, repeat.Queued)
}

func TestAdmitRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dispatcher.Admit(ctx, ":// nope")
	require.ErrorIs(t, err, scrape.ErrInvalidURL)

	_, err = f.dispatcher.Admit(ctx, "https://jobs.example.org/listing/9")
	require.ErrorIs(t, err, scrape.ErrUnknownHost)
}

func TestGetJobDelegatesToLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	admission, err := f.dispatcher.Admit(ctx, "https://seek.com/job/555")
	require.NoError(t, err)

	job, err := f.dispatcher.GetJob(ctx, admission.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, admission.CanonicalURL, job.NormalizedURL)

	_, err = f.dispatcher.GetJob(ctx, "missing")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
}
