package storefront_api

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	config "github.com/NordCoder/Storefront/internal/config/storefront-cli"
	"github.com/NordCoder/Storefront/internal/obs"
)

// NewBaseTransport is the unguarded, traced transport shared by the API
// client and the auth endpoints.
func NewBaseTransport(cfg config.HTTP) http.RoundTripper {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifyTLS,
			MinVersion:         tls.VersionTLS12,
		},
	}
	return obs.HTTPTransport(userAgent{next: transport, ua: cfg.UserAgent}, "storefront")
}

func NewHTTPClient(rt http.RoundTripper, cfg config.HTTP) *http.Client {
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: rt,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

type userAgent struct {
	next http.RoundTripper
	ua   string
}

func (u userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if u.ua == "" || r.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(r)
	}
	out := r.Clone(r.Context())
	out.Header.Set("User-Agent", u.ua)
	return u.next.RoundTrip(out)
}
