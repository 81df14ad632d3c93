package guard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/NordCoder/Storefront/internal/domain/session"
	"github.com/NordCoder/Storefront/internal/repository/memory"
	"github.com/NordCoder/Storefront/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend accepts "Bearer <valid>" and answers 401 otherwise. Paths under
// /public need no token.
type backend struct {
	mu      sync.Mutex
	valid   string
	auth    map[string][]string
	bodies  map[string][]string
	gate    chan struct{} // blocks /slow after it arrived
	arrived chan struct{}
}

func newBackend(t *testing.T, valid string) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{
		valid:   valid,
		auth:    map[string][]string{},
		bodies:  map[string][]string{},
		gate:    make(chan struct{}),
		arrived: make(chan struct{}, 1),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		h := r.Header.Get("Authorization")

		b.mu.Lock()
		b.auth[r.URL.Path] = append(b.auth[r.URL.Path], h)
		b.bodies[r.URL.Path] = append(b.bodies[r.URL.Path], string(body))
		b.mu.Unlock()

		if r.URL.Path == "/slow" && len(b.hits("/slow")) == 1 {
			b.arrived <- struct{}{}
			<-b.gate
		}
		if strings.HasPrefix(r.URL.Path, "/public") {
			_, _ = w.Write([]byte("public"))
			return
		}

		b.mu.Lock()
		ok := h == "Bearer "+b.valid
		b.mu.Unlock()
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) hits(path string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.auth[path]...)
}

func (b *backend) bodiesOf(path string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bodies[path]...)
}

type fakeRenewer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{} // nil: answer at once

	mu   sync.Mutex
	seen []string
	out  domain.Credentials
	err  error
}

func newRenewer(out domain.Credentials, err error) *fakeRenewer {
	return &fakeRenewer{out: out, err: err, started: make(chan struct{}, 1)}
}

func (f *fakeRenewer) Renew(ctx context.Context, refresh string) (domain.Credentials, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, refresh)
	f.mu.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.Credentials{}, ctx.Err()
		}
	}
	return f.out, f.err
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newSession(t *testing.T, c domain.Credentials) *session.Manager {
	t.Helper()
	m := session.NewManager(memory.NewCredentialStore(), session.Opts{Profile: "test"})
	if !c.Empty() {
		require.NoError(t, m.Set(context.Background(), c, domain.ReasonLogin))
	}
	return m
}

func newClient(srv *httptest.Server, sess Session, rn domain.Renewer) (*http.Client, *Transport) {
	tr := New(srv.Client().Transport, sess, rn, Opts{RenewTimeout: 5 * time.Second})
	return &http.Client{Transport: tr}, tr
}

func get(t *testing.T, c *http.Client, url string) (int, string) {
	t.Helper()
	resp, err := c.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func waiters(tr *Transport) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.waiters)
}

func TestTransport_AttachesAccessToken(t *testing.T) {
	b, srv := newBackend(t, "tok")
	rn := newRenewer(domain.Credentials{}, nil)
	c, _ := newClient(srv, newSession(t, domain.Credentials{Access: "tok", Refresh: "r1"}), rn)

	code, body := get(t, c, srv.URL+"/products")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok/products", body)
	assert.Equal(t, []string{"Bearer tok"}, b.hits("/products"))
	assert.Zero(t, rn.calls.Load())
}

func TestTransport_NoAccessTokenNoHeader(t *testing.T) {
	b, srv := newBackend(t, "tok")
	c, _ := newClient(srv, newSession(t, domain.Credentials{}), newRenewer(domain.Credentials{}, nil))

	code, _ := get(t, c, srv.URL+"/public/catalog")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{""}, b.hits("/public/catalog"))
}

func TestTransport_DoesNotMutateCallerRequest(t *testing.T) {
	_, srv := newBackend(t, "tok")
	c, _ := newClient(srv, newSession(t, domain.Credentials{Access: "tok", Refresh: "r1"}), newRenewer(domain.Credentials{}, nil))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/cart", nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestTransport_RenewsAndReplays(t *testing.T) {
	b, srv := newBackend(t, "new")
	rn := newRenewer(domain.Credentials{Access: "new", Refresh: "r2"}, nil)
	sess := newSession(t, domain.Credentials{Access: "old", Refresh: "r1"})
	c, _ := newClient(srv, sess, rn)

	code, body := get(t, c, srv.URL+"/orders")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok/orders", body)
	assert.Equal(t, []string{"Bearer old", "Bearer new"}, b.hits("/orders"))
	assert.EqualValues(t, 1, rn.calls.Load())
	assert.Equal(t, []string{"r1"}, rn.seen)
	assert.Equal(t, domain.Credentials{Access: "new", Refresh: "r2"}, sess.Credentials())
}

func TestTransport_KeepsRefreshWhenNotRotated(t *testing.T) {
	_, srv := newBackend(t, "new")
	sess := newSession(t, domain.Credentials{Access: "old", Refresh: "r1"})
	c, _ := newClient(srv, sess, newRenewer(domain.Credentials{Access: "new"}, nil))

	code, _ := get(t, c, srv.URL+"/coupons")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.Credentials{Access: "new", Refresh: "r1"}, sess.Credentials())
}

func TestTransport_ConcurrentFailuresShareOneRenewal(t *testing.T) {
	b, srv := newBackend(t, "new")
	rn := newRenewer(domain.Credentials{Access: "new", Refresh: "r2"}, nil)
	rn.release = make(chan struct{})
	sess := newSession(t, domain.Credentials{Access: "old", Refresh: "r1"})
	c, tr := newClient(srv, sess, rn)

	paths := []string{"/a", "/b", "/c"}
	codes := make([]int, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Get(srv.URL + p)
			if err != nil {
				return
			}
			codes[i] = resp.StatusCode
			_ = resp.Body.Close()
		}()
	}

	<-rn.started
	require.Eventually(t, func() bool { return waiters(tr) == 2 }, 2*time.Second, 5*time.Millisecond)
	close(rn.release)
	wg.Wait()

	assert.EqualValues(t, 1, rn.calls.Load())
	for i, p := range paths {
		assert.Equal(t, http.StatusOK, codes[i], p)
		assert.Equal(t, []string{"Bearer old", "Bearer new"}, b.hits(p), p)
	}
	assert.Equal(t, "new", sess.AccessToken())
	assert.Zero(t, waiters(tr))
}

func TestTransport_SecondUnauthorizedIsReturned(t *testing.T) {
	b, srv := newBackend(t, "never")
	rn := newRenewer(domain.Credentials{Access: "new"}, nil)
	c, _ := newClient(srv, newSession(t, domain.Credentials{Access: "old", Refresh: "r1"}), rn)

	code, _ := get(t, c, srv.URL+"/admin/staff")

	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Len(t, b.hits("/admin/staff"), 2)
	assert.EqualValues(t, 1, rn.calls.Load())
}

func TestTransport_NoRefreshTokenClearsWithoutRenewal(t *testing.T) {
	b, srv := newBackend(t, "new")
	rn := newRenewer(domain.Credentials{Access: "new"}, nil)
	sess := newSession(t, domain.Credentials{Access: "old"})
	c, _ := newClient(srv, sess, rn)

	code, _ := get(t, c, srv.URL+"/orders")

	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Len(t, b.hits("/orders"), 1)
	assert.Zero(t, rn.calls.Load())
	assert.True(t, sess.Credentials().Empty())
}

func TestTransport_FailedRenewalRejectsEveryWaiter(t *testing.T) {
	b, srv := newBackend(t, "new")
	rn := newRenewer(domain.Credentials{}, errors.New("refresh token expired"))
	rn.release = make(chan struct{})
	sess := newSession(t, domain.Credentials{Access: "old", Refresh: "r1"})
	c, tr := newClient(srv, sess, rn)

	paths := []string{"/a", "/b", "/c"}
	codes := make([]int, len(paths))
	bodies := make([]string, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Get(srv.URL + p)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			codes[i] = resp.StatusCode
			raw, _ := io.ReadAll(resp.Body)
			bodies[i] = string(raw)
		}()
	}

	<-rn.started
	require.Eventually(t, func() bool { return waiters(tr) == 2 }, 2*time.Second, 5*time.Millisecond)
	close(rn.release)
	wg.Wait()

	assert.EqualValues(t, 1, rn.calls.Load())
	for i, p := range paths {
		assert.Equal(t, http.StatusUnauthorized, codes[i], p)
		assert.Equal(t, "unauthorized\n", bodies[i], p)
		assert.Len(t, b.hits(p), 1, p)
	}
	assert.True(t, sess.Credentials().Empty())
	assert.Zero(t, waiters(tr))
}

func TestTransport_EmptyRenewalIsFailure(t *testing.T) {
	_, srv := newBackend(t, "new")
	sess := newSession(t, domain.Credentials{Access: "old", Refresh: "r1"})
	c, _ := newClient(srv, sess, newRenewer(domain.Credentials{Refresh: "r2"}, nil))

	code, _ := get(t, c, srv.URL+"/orders")

	assert.Equal(t, http.StatusUnauthorized, code)
	assert.True(t, sess.Credentials().Empty())
}

func TestTransport_StaleTokenReplaysWithoutRenewal(t *testing.T) {
	b, srv := newBackend(t, "new")
	rn := newRenewer(domain.Credentials{Access: "other"}, nil)
	sess := newSession(t, domain.Credentials{Access: "old", Refresh: "r1"})
	c, _ := newClient(srv, sess, rn)

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.Get(srv.URL + "/slow")
		if err != nil {
			done <- result{err: err}
			return
		}
		_ = resp.Body.Close()
		done <- result{code: resp.StatusCode}
	}()

	<-b.arrived
	require.NoError(t, sess.Set(context.Background(), domain.Credentials{Access: "new", Refresh: "r2"}, domain.ReasonRenewed))
	close(b.gate)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, []string{"Bearer old", "Bearer new"}, b.hits("/slow"))
	assert.Zero(t, rn.calls.Load())
}

func TestTransport_CancelledWaiterReturnsContextError(t *testing.T) {
	_, srv := newBackend(t, "new")
	rn := newRenewer(domain.Credentials{Access: "new"}, nil)
	rn.release = make(chan struct{})
	c, tr := newClient(srv, newSession(t, domain.Credentials{Access: "old", Refresh: "r1"}), rn)

	first := make(chan int, 1)
	go func() {
		resp, err := c.Get(srv.URL + "/a")
		if err != nil {
			first <- 0
			return
		}
		_ = resp.Body.Close()
		first <- resp.StatusCode
	}()
	<-rn.started

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/b", nil)
	require.NoError(t, err)
	second := make(chan error, 1)
	go func() {
		resp, err := c.Do(req)
		if err == nil {
			_ = resp.Body.Close()
		}
		second <- err
	}()

	require.Eventually(t, func() bool { return waiters(tr) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-second, context.Canceled)

	close(rn.release)
	assert.Equal(t, http.StatusOK, <-first)
	assert.EqualValues(t, 1, rn.calls.Load())
}

func TestTransport_ReplaysRequestBody(t *testing.T) {
	b, srv := newBackend(t, "new")
	c, _ := newClient(srv, newSession(t, domain.Credentials{Access: "old", Refresh: "r1"}),
		newRenewer(domain.Credentials{Access: "new"}, nil))

	// NopCloser hides the reader type, so NewRequest sets no GetBody.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/cart/items", io.NopCloser(strings.NewReader(`{"sku":"A1"}`)))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := c.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{`{"sku":"A1"}`, `{"sku":"A1"}`}, b.bodiesOf("/cart/items"))
}

func TestTransport_TransportErrorPropagated(t *testing.T) {
	boom := errors.New("connection refused")
	rn := newRenewer(domain.Credentials{Access: "new"}, nil)
	sess := newSession(t, domain.Credentials{Access: "old", Refresh: "r1"})
	tr := New(roundTripFunc(func(*http.Request) (*http.Response, error) { return nil, boom }), sess, rn, Opts{})

	req, err := http.NewRequest(http.MethodGet, "http://storefront.invalid/orders", nil)
	require.NoError(t, err)
	_, err = tr.RoundTrip(req)

	require.ErrorIs(t, err, boom)
	assert.Zero(t, rn.calls.Load())
	assert.Equal(t, "old", sess.AccessToken())
}

func TestTransport_LogoutDuringRenewalWins(t *testing.T) {
	b, srv := newBackend(t, "new")
	rn := newRenewer(domain.Credentials{Access: "new", Refresh: "r2"}, nil)
	rn.release = make(chan struct{})
	sess := newSession(t, domain.Credentials{Access: "old", Refresh: "r1"})
	c, tr := newClient(srv, sess, rn)

	done := make(chan int, 1)
	go func() {
		resp, err := c.Get(srv.URL + "/orders")
		if err != nil {
			done <- 0
			return
		}
		_ = resp.Body.Close()
		done <- resp.StatusCode
	}()

	<-rn.started
	require.NoError(t, sess.Logout(context.Background(), nil))
	close(rn.release)

	assert.Equal(t, http.StatusUnauthorized, <-done)
	assert.True(t, sess.Credentials().Empty(), "renewal must not revive a logged-out session")
	assert.Len(t, b.hits("/orders"), 1, "discarded renewal is not replayed")
	assert.Zero(t, waiters(tr))
}

func TestTransport_LoginDuringFailedRenewalIsKept(t *testing.T) {
	_, srv := newBackend(t, "new")
	rn := newRenewer(domain.Credentials{}, errors.New("refresh token expired"))
	rn.release = make(chan struct{})
	sess := newSession(t, domain.Credentials{Access: "old", Refresh: "r1"})
	c, _ := newClient(srv, sess, rn)

	done := make(chan int, 1)
	go func() {
		resp, err := c.Get(srv.URL + "/orders")
		if err != nil {
			done <- 0
			return
		}
		_ = resp.Body.Close()
		done <- resp.StatusCode
	}()

	<-rn.started
	fresh := domain.Credentials{Access: "fresh", Refresh: "r9"}
	require.NoError(t, sess.Set(context.Background(), fresh, domain.ReasonLogin))
	close(rn.release)

	assert.Equal(t, http.StatusUnauthorized, <-done)
	assert.Equal(t, fresh, sess.Credentials())
}

func TestTransport_WaitersQueueInArrivalOrder(t *testing.T) {
	_, srv := newBackend(t, "new")
	rn := newRenewer(domain.Credentials{Access: "new"}, nil)
	rn.release = make(chan struct{})
	c, tr := newClient(srv, newSession(t, domain.Credentials{Access: "old", Refresh: "r1"}), rn)

	var wg sync.WaitGroup
	fire := func(path string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Get(srv.URL + path)
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
	}

	fire("/trigger")
	<-rn.started

	seen := []chan renewal{}
	for i, p := range []string{"/first", "/second", "/third"} {
		fire(p)
		require.Eventually(t, func() bool { return waiters(tr) == i+1 }, 2*time.Second, 5*time.Millisecond)
		tr.mu.Lock()
		snapshot := append([]chan renewal(nil), tr.waiters...)
		tr.mu.Unlock()
		require.Equal(t, seen, snapshot[:i], "earlier waiters keep their place")
		seen = snapshot
	}

	close(rn.release)
	wg.Wait()
}

func TestTransport_SettleWakesWaitersInQueueOrder(t *testing.T) {
	tr := New(nil, newSession(t, domain.Credentials{}), newRenewer(domain.Credentials{}, nil), Opts{})

	// unbuffered, so settle blocks on each channel until it is read
	chans := []chan renewal{make(chan renewal), make(chan renewal), make(chan renewal)}
	tr.mu.Lock()
	tr.renewing = true
	tr.waiters = append(tr.waiters, chans...)
	tr.mu.Unlock()
	mQueued.Add(float64(len(chans)))

	settled := make(chan struct{})
	go func() {
		tr.settle(renewal{access: "new", ok: true})
		close(settled)
	}()

	for i, ch := range chans {
		select {
		case res := <-ch:
			assert.Equal(t, renewal{access: "new", ok: true}, res)
		case <-time.After(time.Second):
			t.Fatalf("waiter %d was not woken first", i)
		}
	}
	<-settled
	assert.Zero(t, waiters(tr))
	assert.False(t, tr.renewing)
}
