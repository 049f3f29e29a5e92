package wx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const (
	DefaultLoginURL  = "https://login.weixin.qq.com"
	DefaultWebURL    = "https://wx.qq.com/cgi-bin/mmwebwx-bin"
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	appID         = "wx782c26e4c19acffb"
	clientVersion = "2.0.0"
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	LoginURL       string
	WebURL         string
	UserAgent      string
	RequestTimeout time.Duration
	PollTimeout    time.Duration
	// ExtSpam is sent as the extspam header on login requests when set.
	ExtSpam string
	// Transport overrides the HTTP round tripper, mainly for tests.
	Transport http.RoundTripper
}

func (o *Options) applyDefaults() {
	if o.LoginURL == "" {
		o.LoginURL = DefaultLoginURL
	}
	if o.WebURL == "" {
		o.WebURL = DefaultWebURL
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 35 * time.Second
	}
	o.LoginURL = strings.TrimRight(o.LoginURL, "/")
	o.WebURL = strings.TrimRight(o.WebURL, "/")
}

// Client talks to the service. It owns the cookie jar and the session
// tokens; both are safe for concurrent use.
type Client struct {
	opts       Options
	jar        *jar
	http       *http.Client
	noRedirect *http.Client
	logger     *zap.Logger

	mu      sync.RWMutex
	session Session
}

// NewClient creates a client with an empty session.
func NewClient(opts Options, logger *zap.Logger) *Client {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	j := newJar()
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		opts: opts,
		jar:  j,
		http: &http.Client{Jar: j, Transport: transport},
		noRedirect: &http.Client{
			Jar:       j,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Session returns a snapshot of the current session tokens.
func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.session
	s.SyncKey.List = append([]KeyVal(nil), c.session.SyncKey.List...)
	return s
}

// SetSession replaces the session tokens, e.g. when restoring a snapshot.
func (c *Client) SetSession(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.session.SyncKey.List = append([]KeyVal(nil), s.SyncKey.List...)
}

func (c *Client) update(fn func(s *Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.session)
}

// Reset clears the session tokens and every cookie.
func (c *Client) Reset() {
	c.mu.Lock()
	c.session = Session{}
	c.mu.Unlock()
	c.jar.reset()
}

// knownURLs lists every origin cookies may be scoped to.
func (c *Client) knownURLs() []*url.URL {
	s := c.Session()
	raw := []string{c.opts.LoginURL, c.opts.WebURL, s.BaseURL, s.FileURL, s.SyncURL}
	seen := make(map[string]bool)
	var out []*url.URL
	for _, r := range raw {
		if r == "" {
			continue
		}
		u, err := url.Parse(r)
		if err != nil || u.Host == "" {
			continue
		}
		key := u.Scheme + "://" + u.Host
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"})
	}
	return out
}

// Cookies returns every cookie visible to the known origins by name.
func (c *Client) Cookies() map[string]string {
	out := make(map[string]string)
	for _, u := range c.knownURLs() {
		for _, ck := range c.jar.Cookies(u) {
			if _, ok := out[ck.Name]; !ok {
				out[ck.Name] = ck.Value
			}
		}
	}
	return out
}

// Cookie returns a single cookie value.
func (c *Client) Cookie(name string) string {
	return c.Cookies()[name]
}

// SetCookies installs cookies on every known origin.
func (c *Client) SetCookies(cookies map[string]string) {
	if len(cookies) == 0 {
		return
	}
	list := make([]*http.Cookie, 0, len(cookies))
	for k, v := range cookies {
		list = append(list, &http.Cookie{Name: k, Value: v, Path: "/"})
	}
	for _, u := range c.knownURLs() {
		c.jar.SetCookies(u, list)
	}
}

// IsTimeout reports whether err is a transient timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isMalformedResponse reports a broken status line from the long-poll host,
// which the service uses to signal a pending contact change.
func isMalformedResponse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "malformed HTTP")
}

type request struct {
	method   string
	url      string
	params   url.Values
	body     io.Reader
	headers  map[string]string
	timeout  time.Duration
	redirect bool
}

func (c *Client) do(ctx context.Context, r request) ([]byte, *http.Response, error) {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := r.url
	if len(r.params) > 0 {
		target += "?" + r.params.Encode()
	}
	method := r.method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r.body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	hc := c.http
	if !r.redirect {
		hc = c.noRedirect
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("read body: %w", err)
	}
	return body, resp, nil
}

func (c *Client) get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	body, _, err := c.do(ctx, request{url: rawURL, params: params, redirect: true})
	return body, err
}

func (c *Client) postJSON(ctx context.Context, rawURL string, params url.Values, payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	body, _, err := c.do(ctx, request{
		method:   http.MethodPost,
		url:      rawURL,
		params:   params,
		body:     &buf,
		headers:  map[string]string{"Content-Type": "application/json;charset=UTF-8"},
		redirect: true,
	})
	return body, err
}

// call posts payload and converts the outcome into a Result.
func (c *Client) call(ctx context.Context, rawURL string, params url.Values, payload any) Result {
	body, err := c.postJSON(ctx, rawURL, params, payload)
	if err != nil {
		return requestFailed(err)
	}
	return parseResult(body)
}

func (c *Client) loginHeaders() map[string]string {
	h := map[string]string{"client-version": clientVersion}
	if c.opts.ExtSpam != "" {
		h["extspam"] = c.opts.ExtSpam
	}
	return h
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

// jar is a cookie jar that can be emptied in place.
type jar struct {
	mu    sync.RWMutex
	inner *cookiejar.Jar
}

func newJar() *jar {
	j := &jar{}
	j.reset()
	return j
}

func (j *jar) reset() {
	inner, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	j.mu.Lock()
	j.inner = inner
	j.mu.Unlock()
}

func (j *jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.inner.SetCookies(u, cookies)
}

func (j *jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.inner.Cookies(u)
}
