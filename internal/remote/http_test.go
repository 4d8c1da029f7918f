package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type collector struct {
	snaps chan Snapshot
	errs  chan error
}

func newCollector() *collector {
	return &collector{snaps: make(chan Snapshot, 16), errs: make(chan error, 16)}
}

func (c *collector) onSnapshot(s Snapshot) { c.snaps <- s }
func (c *collector) onError(err error)     { c.errs <- err }

func (c *collector) next(t *testing.T) Snapshot {
	t.Helper()
	select {
	case s := <-c.snaps:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func (c *collector) nextErr(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.errs:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for error")
		return nil
	}
}

func (c *collector) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case s := <-c.snaps:
		t.Fatalf("unexpected snapshot from %s", s.Origin)
	case <-time.After(d):
	}
}

// empty 断言此刻没有待处理的快照，用于同步轮询之后。
func (c *collector) empty(t *testing.T) {
	t.Helper()
	select {
	case s := <-c.snaps:
		t.Fatalf("unexpected snapshot from %s", s.Origin)
	default:
	}
}

type docServer struct {
	mu     sync.Mutex
	status int
	body   string
	etag   string
	hits   atomic.Int32
}

func (d *docServer) set(status int, body, etag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status, d.body, d.etag = status, body, etag
}

func (d *docServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.hits.Add(1)
	d.mu.Lock()
	status, body, etag := d.status, d.body, d.etag
	d.mu.Unlock()

	if etag != "" {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// pollNow 同步触发一次轮询，不依赖调度器的秒级粒度。
func pollNow(t *testing.T, sub Subscription) {
	t.Helper()
	h, ok := sub.(*httpSubscription)
	require.True(t, ok)
	h.poll()
}

func TestHTTPSourceDeliversOnlyChanges(t *testing.T) {
	srv := &docServer{status: http.StatusOK, body: `{"latest_version":"1.0.0"}`}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	source := NewHTTPSource(ts.URL, WithHTTPClient(ts.Client()), WithPollInterval(time.Hour), WithLogger(quietLogger()))
	c := newCollector()
	sub, err := source.Subscribe(context.Background(), c.onSnapshot, c.onError)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	first := c.next(t)
	assert.True(t, first.Document.Exists)
	assert.Equal(t, "1.0.0", *first.Document.Root.LatestVersion)
	assert.Equal(t, "http:"+ts.URL, first.Origin)

	pollNow(t, sub)
	c.empty(t)

	srv.set(http.StatusOK, `{"latest_version":"2.0.0"}`, "")
	pollNow(t, sub)
	second := c.next(t)
	assert.Equal(t, "2.0.0", *second.Document.Root.LatestVersion)

	srv.set(http.StatusNotFound, "", "")
	pollNow(t, sub)
	third := c.next(t)
	assert.False(t, third.Document.Exists)
	assert.Equal(t, int32(4), srv.hits.Load())
}

func TestHTTPSourceHonoursETag(t *testing.T) {
	srv := &docServer{status: http.StatusOK, body: `{"maintenance_mode":true}`, etag: `"v1"`}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	source := NewHTTPSource(ts.URL, WithHTTPClient(ts.Client()), WithPollInterval(time.Hour), WithLogger(quietLogger()))
	c := newCollector()
	sub, err := source.Subscribe(context.Background(), c.onSnapshot, c.onError)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	snap := c.next(t)
	assert.True(t, *snap.Document.Root.MaintenanceMode)

	pollNow(t, sub)
	pollNow(t, sub)
	c.empty(t)
	assert.Equal(t, int32(3), srv.hits.Load())

	srv.set(http.StatusOK, `{"maintenance_mode":false}`, `"v2"`)
	pollNow(t, sub)
	assert.False(t, *c.next(t).Document.Root.MaintenanceMode)
}

func TestWithPollIntervalClampsSubSecond(t *testing.T) {
	cases := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{name: "sub second", in: 20 * time.Millisecond, want: time.Second},
		{name: "one second", in: time.Second, want: time.Second},
		{name: "minutes", in: 2 * time.Minute, want: 2 * time.Minute},
		{name: "zero keeps default", in: 0, want: defaultPollInterval},
		{name: "negative keeps default", in: -time.Second, want: defaultPollInterval},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NewHTTPSource("http://example.com", WithPollInterval(tc.in)).interval)
		})
	}
}

func TestHTTPSourceReportsTransportErrors(t *testing.T) {
	srv := &docServer{status: http.StatusBadGateway}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	source := NewHTTPSource(ts.URL, WithHTTPClient(ts.Client()), WithPollInterval(time.Hour), WithLogger(quietLogger()))
	c := newCollector()
	sub, err := source.Subscribe(context.Background(), c.onSnapshot, c.onError)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	assert.ErrorContains(t, c.nextErr(t), "unexpected status 502")
}

func TestHTTPSourceNoCallbacksAfterUnsubscribe(t *testing.T) {
	srv := &docServer{status: http.StatusOK, body: `{}`}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	source := NewHTTPSource(ts.URL, WithHTTPClient(ts.Client()), WithPollInterval(time.Hour), WithLogger(quietLogger()))
	c := newCollector()
	sub, err := source.Subscribe(context.Background(), c.onSnapshot, c.onError)
	require.NoError(t, err)
	c.next(t)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	srv.set(http.StatusOK, `{"latest_version":"3.0.0"}`, "")
	pollNow(t, sub)
	c.empty(t)
	assert.Equal(t, int32(1), srv.hits.Load())
}

type fixedMirror struct {
	code string
}

func (f fixedMirror) Mirror(_ context.Context, mirrors map[string]string, fallback string) string {
	if url, ok := mirrors[f.code]; ok {
		return url
	}
	return fallback
}

func TestHTTPSourceRegionMirror(t *testing.T) {
	primary := httptest.NewServer(&docServer{status: http.StatusOK, body: `{"latest_version":"1.0.0"}`})
	t.Cleanup(primary.Close)
	mirror := httptest.NewServer(&docServer{status: http.StatusOK, body: `{"latest_version":"1.0.1"}`})
	t.Cleanup(mirror.Close)

	mirrors := map[string]string{"CN": mirror.URL}

	cases := []struct {
		name     string
		resolver MirrorResolver
		mirrors  map[string]string
		want     string
	}{
		{name: "mirror", resolver: fixedMirror{code: "CN"}, mirrors: mirrors, want: "1.0.1"},
		{name: "no mirror", resolver: fixedMirror{code: "US"}, mirrors: mirrors, want: "1.0.0"},
		{name: "no mirrors configured", resolver: fixedMirror{code: "CN"}, want: "1.0.0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			source := NewHTTPSource(primary.URL,
				WithPollInterval(time.Hour),
				WithLogger(quietLogger()),
				WithRegionMirrors(tc.resolver, tc.mirrors))
			c := newCollector()
			sub, err := source.Subscribe(context.Background(), c.onSnapshot, c.onError)
			require.NoError(t, err)
			defer sub.Unsubscribe()

			assert.Equal(t, tc.want, *c.next(t).Document.Root.LatestVersion)
		})
	}
}

func TestHTTPSourceFetch(t *testing.T) {
	ts := httptest.NewServer(&docServer{status: http.StatusNotFound})
	t.Cleanup(ts.Close)

	doc, err := NewHTTPSource(ts.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, doc.Exists)
}

func TestHTTPSourceRequiresURL(t *testing.T) {
	_, err := NewHTTPSource("").Subscribe(context.Background(), func(Snapshot) {}, nil)
	assert.Error(t, err)
}

func TestNewHTTPClientWithHTTP2(t *testing.T) {
	client, err := NewHTTPClient(0, true)
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPTimeout, client.Timeout)
}
