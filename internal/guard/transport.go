package guard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	domain "github.com/NordCoder/Storefront/internal/domain/session"
	"github.com/NordCoder/Storefront/internal/obs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const DefaultRenewTimeout = 10 * time.Second

var errEmptyAccess = errors.New("renewal returned no access token")

// Session is the credential state the guard reads and mutates. Writes are
// conditional on the generation seen when the 401 was handled, so a login or
// logout that lands meanwhile is never overwritten.
type Session interface {
	Credentials() domain.Credentials
	Snapshot() (domain.Credentials, uint64)
	SetIf(ctx context.Context, gen uint64, c domain.Credentials, reason domain.Reason) (bool, error)
	ClearIf(ctx context.Context, gen uint64, reason domain.Reason) (bool, error)
}

type Opts struct {
	Logger *zap.Logger
	// RenewTimeout bounds the renewal call. It is detached from the
	// triggering request's cancellation.
	RenewTimeout time.Duration
}

// Transport attaches the access token to every request and, on a 401,
// renews the pair once for all concurrent callers and replays each request
// a single time.
type Transport struct {
	base         http.RoundTripper
	sess         Session
	renewer      domain.Renewer
	log          *zap.Logger
	renewTimeout time.Duration

	mu       sync.Mutex
	renewing bool
	waiters  []chan renewal // FIFO
}

type renewal struct {
	access string
	ok     bool
}

var _ http.RoundTripper = (*Transport)(nil)

func New(base http.RoundTripper, sess Session, renewer domain.Renewer, o Opts) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if o.RenewTimeout <= 0 {
		o.RenewTimeout = DefaultRenewTimeout
	}
	return &Transport{
		base:         base,
		sess:         sess,
		renewer:      renewer,
		log:          log.With(zap.String("component", "guard")),
		renewTimeout: o.RenewTimeout,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	mRequests.Inc()

	r, err := replayable(req)
	if err != nil {
		return nil, err
	}

	used := t.sess.Credentials().Access
	resp, err := t.send(r, used)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	mUnauthorized.Inc()
	return t.onUnauthorized(r, used, resp)
}

func (t *Transport) onUnauthorized(r *http.Request, used string, resp *http.Response) (*http.Response, error) {
	ctx := r.Context()
	log := obs.WithTrace(ctx, t.log).With(zap.String("method", r.Method), zap.String("path", r.URL.Path))

	t.mu.Lock()
	creds, gen := t.sess.Snapshot()
	switch {
	case creds.Refresh == "":
		t.mu.Unlock()
		log.Info("unauthorized without refresh credential")
		if _, err := t.sess.ClearIf(context.WithoutCancel(ctx), gen, domain.ReasonNoRefreshToken); err != nil {
			log.Warn("clear credentials", zap.Error(err))
		}
		return resp, nil

	case t.renewing:
		ch := make(chan renewal, 1)
		t.waiters = append(t.waiters, ch)
		mQueued.Inc()
		t.mu.Unlock()
		log.Debug("queued behind renewal")
		return t.wait(r, resp, ch)

	case creds.Access != "" && creds.Access != used:
		// renewed since this request went out
		t.mu.Unlock()
		log.Debug("replay with newer access token")
		drain(resp)
		mReplays.WithLabelValues("stale").Inc()
		return t.send(r, creds.Access)
	}
	t.renewing = true
	t.mu.Unlock()

	return t.renew(r, creds, gen, resp, log)
}

func (t *Transport) renew(r *http.Request, creds domain.Credentials, gen uint64, resp *http.Response, log *zap.Logger) (*http.Response, error) {
	ctx := context.WithoutCancel(r.Context())

	rctx, cancel := context.WithTimeout(ctx, t.renewTimeout)
	rctx, span := otel.Tracer("storefront/guard").Start(rctx, "session.renew")
	start := time.Now()
	next, err := t.renewer.Renew(rctx, creds.Refresh)
	if err == nil && next.Access == "" {
		err = errEmptyAccess
	}
	span.SetAttributes(attribute.Bool("renewal.ok", err == nil))
	obs.EndSpan(span, err)
	cancel()

	if err != nil {
		mRenewals.WithLabelValues("failure").Inc()
		log.Warn("renewal failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		if _, cerr := t.sess.ClearIf(ctx, gen, domain.ReasonRenewalFailed); cerr != nil {
			log.Warn("clear credentials", zap.Error(cerr))
		}
		t.settle(renewal{})
		return resp, nil
	}

	pair := creds.Renewed(next)
	applied, err := t.sess.SetIf(ctx, gen, pair, domain.ReasonRenewed)
	if err != nil {
		log.Warn("persist renewed credentials", zap.Error(err))
	}
	if !applied {
		// login or logout while the call was out; its pair wins
		mRenewals.WithLabelValues("discarded").Inc()
		log.Info("session changed during renewal, result discarded", zap.Duration("took", time.Since(start)))
		t.settle(renewal{})
		return resp, nil
	}

	mRenewals.WithLabelValues("success").Inc()
	log.Info("renewed",
		obs.TokenField("access", pair.Access),
		zap.Bool("refresh_rotated", next.Refresh != ""),
		zap.Duration("took", time.Since(start)),
	)
	t.settle(renewal{access: pair.Access, ok: true})

	drain(resp)
	mReplays.WithLabelValues("renewed").Inc()
	return t.send(r, pair.Access)
}

// settle ends the renewal and wakes waiters in the order they queued.
func (t *Transport) settle(res renewal) {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = nil
	t.renewing = false
	t.mu.Unlock()

	mQueued.Sub(float64(len(waiters)))
	for _, ch := range waiters {
		ch <- res
	}
}

// wait blocks until the in-flight renewal settles. A failed renewal hands the
// caller its own 401 back.
func (t *Transport) wait(r *http.Request, resp *http.Response, ch <-chan renewal) (*http.Response, error) {
	select {
	case res := <-ch:
		if !res.ok {
			mRejected.Inc()
			return resp, nil
		}
		drain(resp)
		mReplays.WithLabelValues("queued").Inc()
		return t.send(r, res.access)
	case <-r.Context().Done():
		drain(resp)
		return nil, r.Context().Err()
	}
}

func (t *Transport) send(r *http.Request, access string) (*http.Response, error) {
	out := r.Clone(r.Context())
	if r.GetBody != nil {
		body, err := r.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind body: %w", err)
		}
		out.Body = body
	}
	if access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
	}
	return t.base.RoundTrip(out)
}

// replayable returns a copy of req whose body can be sent twice. The caller's
// body is consumed and closed here.
func replayable(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		r.Body, r.GetBody = nil, nil
		return r, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return r, nil
	}
	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer body: %w", err)
	}
	r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(b)), nil }
	r.ContentLength = int64(len(b))
	return r, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
