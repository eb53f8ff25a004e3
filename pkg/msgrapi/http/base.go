// Package http implements component C: the signed form/GraphQL HTTP client
// used for login, thread metadata and media upload, grounded on
// maufbapi/http/base.py.
package http

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	mathrand "math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"go.mau.fi/mautrix-meta/pkg/msgrapi"
)

// Host prefixes used by the client.
const (
	HostAPI        = "https://api.facebook.com"
	HostBAPI       = "https://b-api.facebook.com"
	HostGraph      = "https://graph.facebook.com"
	HostBGraph     = "https://b-graph.facebook.com"
	HostRUpload    = "https://rupload.facebook.com"
	MQTTHost       = "edge-mqtt.facebook.com:443"
)

// Client wraps a pooled *http.Client with the account identity, request
// signing and response decompression/error handling needed to talk to the
// messenger HTTP surface.
type Client struct {
	State *msgrapi.State
	Log   zerolog.Logger
	HTTP  *http.Client

	mu        sync.Mutex
	cid       string
	cidTS     int64
	FreezeCID bool
	nid       string
	tid       int64
}

// NewClient constructs a Client for the given account state. proxyURL, if
// non-empty, configures an HTTP/SOCKS proxy (auto-detected from the
// environment by the caller, matching the upstream client's behavior of
// picking up http_proxy/HTTPS_PROXY).
func NewClient(state *msgrapi.State, log zerolog.Logger, proxyURL string) (*Client, error) {
	transport := &http.Transport{}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}
	nidBytes := make([]byte, 9)
	_, _ = rand.Read(nidBytes)
	return &Client{
		State: state,
		Log:   log,
		HTTP:  &http.Client{Transport: transport},
		nid:   base64.StdEncoding.EncodeToString(nidBytes),
	}, nil
}

// tid returns a per-request incrementing integer, used in the session-id
// header value.
func (c *Client) nextTID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tid++
	return c.tid
}

// cidValue returns a per-minute request identifier seeded from the device
// UUID plus the current minute, refreshed once per minute unless FreezeCID
// is set (used while a single signed flow must keep a stable value).
func (c *Client) cidValue() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	newTS := time.Now().Unix() / 60
	if c.cid == "" || (c.cidTS != newTS && !c.FreezeCID) {
		c.cidTS = newTS
		seed := fmt.Sprintf("%s%d", c.State.Device.UUID, newTS)
		r := mathrand.New(mathrand.NewSource(seedHash(seed)))
		buf := make([]byte, 16)
		for i := range buf {
			buf[i] = byte(r.Intn(256))
		}
		c.cid = hex.EncodeToString(buf)
	}
	return c.cid
}

// seedHash turns an arbitrary string into an int64 seed for math/rand,
// matching the deterministic-per-minute-per-device derivation used by the
// upstream client (which seeds Python's random.Random with the same kind
// of composite string).
func seedHash(s string) int64 {
	sum := md5.Sum([]byte(s))
	var v int64
	for i := 0; i < 8; i++ {
		v = v<<8 | int64(sum[i])
	}
	if v < 0 {
		v = -v
	}
	return v
}

// SessionID returns the x-fb-session-id-shaped value some endpoints embed
// in their signed form body.
func (c *Client) SessionID() string {
	return fmt.Sprintf("nid=%s;pid=Main;tid=%d;nc=0;fc=0;bc=0,cid=%s", c.nid, c.nextTID(), c.cidValue())
}

// Format alphabetizes req, optionally appends an MD5 "sig" computed over
// the sorted "k=v" concatenation plus the client secret, merges in extra
// unsigned fields, and URL-encodes the whole thing with keys sorted once
// more -- matching maufbapi/http/base.py's `format()`.
func (c *Client) Format(req map[string]string, sign bool, extra map[string]string) string {
	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := make(map[string]string, len(req)+len(extra))
	for _, k := range keys {
		merged[k] = req[k]
	}

	if sign {
		var sb strings.Builder
		for _, k := range keys {
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(merged[k])
		}
		sb.WriteString(msgrapi.ClientSecret)
		sum := md5.Sum([]byte(sb.String()))
		merged["sig"] = hex.EncodeToString(sum[:])
	}
	for k, v := range extra {
		merged[k] = v
	}

	finalKeys := make([]string, 0, len(merged))
	for k := range merged {
		finalKeys = append(finalKeys, k)
	}
	sort.Strings(finalKeys)

	var sb strings.Builder
	for i, k := range finalKeys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(merged[k]))
	}
	return sb.String()
}

// Headers returns the fixed header set every request carries: the account
// user-agent, the bogus "Liger" transport marker, connection-quality/HNI
// hints, and the OAuth bearer.
func (c *Client) Headers() map[string]string {
	token := c.State.Session.AccessToken
	if token == "" {
		token = "null"
	}
	return map[string]string{
		"x-fb-connection-quality":    c.State.Device.ConnectionQuality,
		"x-fb-connection-type":       c.State.Device.ConnectionType,
		"user-agent":                 c.State.UserAgent(),
		"x-tigon-is-retry":           "False",
		"x-fb-http-engine":           "Liger",
		"x-fb-client-ip":             "True",
		"x-fb-server-cluster":        "True",
		"x-fb-device-group":          c.State.Device.DeviceGroup,
		"x-fb-sim-hni":               strconv.Itoa(c.State.Carrier.HNI),
		"x-fb-net-hni":               strconv.Itoa(c.State.Carrier.HNI),
		"x-fb-rmd":                   "cached=0;state=NO_MATCH",
		"x-fb-request-analytics-tags": "unknown",
		"authorization":              "OAuth " + token,
	}
}

// Params returns the fixed query parameters attached to most requests.
func (c *Client) Params() map[string]string {
	return map[string]string{
		"locale":              c.State.Device.Language,
		"client_country_code": c.State.Device.CountryCode,
	}
}

// Get issues a GET request, omitting the OAuth header for non-facebook.com
// hosts (e.g. sandboxed media download), matching the upstream client.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string, includeAuth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	parsed, _ := url.Parse(rawURL)
	for k, v := range c.Headers() {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if parsed == nil || !strings.HasSuffix(parsed.Hostname(), ".facebook.com") || !includeAuth {
		req.Header.Del("authorization")
	}
	return c.HTTP.Do(req)
}

// SandboxedGet fetches rawURL with a one-off bare http.Client carrying no
// identifying headers at all, for deployments that don't want CDN media
// requests fingerprinted to the account's device identity.
func (c *Client) SandboxedGet(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return (&http.Client{}).Do(req)
}

// PostForm issues a signed/unsigned form POST to rawURL.
func (c *Client) PostForm(ctx context.Context, rawURL string, body string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range c.Headers() {
		req.Header.Set(k, v)
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.HTTP.Do(req)
}

// ReadAll drains and closes a response body, returning its raw bytes.
func ReadAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
