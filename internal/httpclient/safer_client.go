// Package httpclient provides the outbound HTTP client shared by the ServiceDesk,
// diagnostics and model adapters: SSRF-guarded dialing plus correlation stamping.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/teranos/ticketpulse/correlation"
	"github.com/teranos/ticketpulse/errors"
)

// DefaultMaxRedirects bounds redirect chains followed by a SaferClient
const DefaultMaxRedirects = 10

// SaferClient is an http.Client that validates every URL it is asked to reach,
// including redirect targets, and stamps the request's correlation ID.
type SaferClient struct {
	*http.Client
	allowedSchemes []string
	blockPrivateIP bool
	maxRedirects   int
}

// Options customizes a SaferClient
type Options struct {
	AllowedSchemes []string // default http and https
	MaxRedirects   int      // default DefaultMaxRedirects
	// AllowPrivateNetworks permits RFC 1918 and loopback targets, for on-prem
	// ServiceDesk installs and local model servers.
	AllowPrivateNetworks bool
}

func New(timeout time.Duration) *SaferClient {
	return NewWithOptions(timeout, Options{})
}

func NewWithOptions(timeout time.Duration, opts Options) *SaferClient {
	c := &SaferClient{
		Client:         &http.Client{Timeout: timeout},
		allowedSchemes: opts.AllowedSchemes,
		blockPrivateIP: !opts.AllowPrivateNetworks,
		maxRedirects:   opts.MaxRedirects,
	}
	if c.allowedSchemes == nil {
		c.allowedSchemes = []string{"http", "https"}
	}
	if c.maxRedirects <= 0 {
		c.maxRedirects = DefaultMaxRedirects
	}

	c.CheckRedirect = c.checkRedirect
	if c.blockPrivateIP {
		c.Transport = guardedTransport()
	}
	return c
}

// WrapClient adopts client without SSRF protection. Only for tests against
// httptest servers on localhost.
func WrapClient(client *http.Client) *SaferClient {
	return &SaferClient{
		Client:         client,
		allowedSchemes: []string{"http", "https"},
		maxRedirects:   DefaultMaxRedirects,
	}
}

func (c *SaferClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= c.maxRedirects {
		return errors.Newf("stopped after %d redirects", c.maxRedirects)
	}
	return errors.Wrap(c.validateURL(req.URL), "redirect blocked")
}

// guardedTransport checks the resolved addresses at dial time, so a public name
// pointing at an internal IP is refused too.
func guardedTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrap(err, "invalid address")
		}
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve host %q", host)
		}
		if i := slices.IndexFunc(ips, isPrivateIP); i >= 0 {
			return nil, errors.Newf("private IP address blocked: %s", ips[i])
		}
		// Dial the vetted address, not the name, so a second lookup can't swap it
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
	}

	return &http.Transport{
		DialContext:           dial,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func (c *SaferClient) validateURL(u *url.URL) error {
	if scheme := strings.ToLower(u.Scheme); !slices.Contains(c.allowedSchemes, scheme) {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}
	// http://evil.com@localhost/ style confusion
	if u.User != nil || strings.Contains(u.Host, "@") {
		return errors.New("URL contains @ character (potential SSRF attempt)")
	}

	host := u.Hostname()
	switch {
	case host == "":
		return errors.New("URL missing hostname")
	case !c.blockPrivateIP:
		return nil
	case isLocalhost(host):
		return errors.New("localhost access blocked")
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return errors.Newf("private IP address blocked: %s", host)
	}
	return nil
}

// ValidateURL parses and checks raw against the client's policy.
func (c *SaferClient) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Do validates req.URL, sends the context's correlation ID as X-Correlation-ID and
// performs the request.
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked by SSRF protection")
	}
	correlation.Stamp(req.Context(), req)
	return c.Client.Do(req)
}
