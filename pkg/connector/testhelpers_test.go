// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"

	"go.mau.fi/mautrix-meta/pkg/msgrapi"
	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
)

// mockEventSender captures queued remote events for test assertions.
type mockEventSender struct {
	mu     sync.Mutex
	events []bridgev2.RemoteEvent
}

func (m *mockEventSender) QueueRemoteEvent(_ *bridgev2.UserLogin, evt bridgev2.RemoteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockEventSender) Events() []bridgev2.RemoteEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]bridgev2.RemoteEvent, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockEventSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// endpointCall records which simulated Messenger endpoint a test client hit.
type endpointCall struct {
	Host string
	Path string
	Body string
}

// fakeMeta simulates the Messenger HTTP surface (graph/b-graph GraphQL,
// rupload media upload, login/graph REST) behind a single httptest.Server.
// A rewriteTransport installed on the client under test redirects requests
// for the real api/graph/rupload hostnames here, tagging each request with
// its original host so the handler can route on it.
type fakeMeta struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// GraphQLResponses maps a GraphQL doc_id to the canned "data" payload
	// returned for it.
	GraphQLResponses map[string]map[string]any
	// GraphQLErrors maps a doc_id to an error payload to return instead.
	GraphQLErrors map[string]map[string]any
	// UploadResult is returned for any rupload POST.
	UploadResult *msgrapihttp.UploadResult
	// PathHandlers overrides handling for a specific "host path" combination,
	// e.g. "https://graph.facebook.com /check_approved_machine".
	PathHandlers map[string]http.HandlerFunc
}

const testOriginalHostHeader = "X-Test-Original-Host"

func newFakeMeta() *fakeMeta {
	f := &fakeMeta{
		GraphQLResponses: make(map[string]map[string]any),
		GraphQLErrors:    make(map[string]map[string]any),
		PathHandlers:     make(map[string]http.HandlerFunc),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMeta) Close() {
	f.Server.Close()
}

func (f *fakeMeta) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMeta) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

func (f *fakeMeta) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	originalHost := r.Header.Get(testOriginalHostHeader)

	f.mu.Lock()
	f.calls = append(f.calls, endpointCall{Host: originalHost, Path: r.URL.Path, Body: string(body)})
	f.mu.Unlock()

	if h, ok := f.PathHandlers[originalHost+" "+r.URL.Path]; ok {
		h(w, r)
		return
	}

	switch {
	case r.URL.Path == "/graphql":
		form, _ := url.ParseQuery(string(body))
		docID := form.Get("doc_id")
		if errPayload, ok := f.GraphQLErrors[docID]; ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": errPayload})
			return
		}
		data := f.GraphQLResponses[docID]
		if data == nil {
			data = map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})

	case strings.HasPrefix(r.URL.Path, "/messenger_") || strings.Contains(originalHost, "rupload"):
		result := f.UploadResult
		if result == nil {
			result = &msgrapihttp.UploadResult{MediaID: "test-media-id"}
		}
		_ = json.NewEncoder(w).Encode(result)

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + r.URL.Path})
	}
}

// rewriteTransport redirects every outbound request to the fake server,
// recording the real host/scheme it was addressed to so fakeMeta can route
// on it.
type rewriteTransport struct {
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	originalHost := req.URL.Scheme + "://" + req.URL.Host
	cloned := req.Clone(req.Context())
	cloned.URL.Scheme = t.target.Scheme
	cloned.URL.Host = t.target.Host
	cloned.Host = t.target.Host
	cloned.Header.Set(testOriginalHostHeader, originalHost)
	return http.DefaultTransport.RoundTrip(cloned)
}

// testState returns a minimal logged-in msgrapi.State for tests.
func testState() *msgrapi.State {
	state := msgrapi.NewState()
	state.Generate("test-seed", "@test:example.com")
	state.Session.UID = 1234567890
	state.Session.AccessToken = "test-access-token"
	state.Session.MachineID = "test-machine-id"
	return state
}

// newFullTestClient creates a MetaClient backed by a fake Messenger HTTP
// server, with a mock event sender, considered logged in.
func newFullTestClient(fake *fakeMeta) *MetaClient {
	log := zerolog.Nop()
	state := testState()

	connector := &MetaConnector{
		Bridge: &bridgev2.Bridge{Log: log},
		Config: Config{},
	}
	login := &bridgev2.UserLogin{
		UserLogin: &database.UserLogin{Metadata: &UserLoginMetadata{State: state}},
		Log:       log,
	}

	mc := NewMetaClient(login, connector)
	mc.eventSender = &mockEventSender{}

	target, _ := url.Parse(fake.Server.URL)
	mc.http.HTTP.Transport = &rewriteTransport{target: target}

	return mc
}

// testMock returns the mockEventSender from a test client.
func testMock(mc *MetaClient) *mockEventSender {
	return mc.eventSender.(*mockEventSender)
}

// newNotLoggedInClient creates a MetaClient with no account state, for
// testing the not-logged-in error paths every handler starts with.
func newNotLoggedInClient() *MetaClient {
	log := zerolog.Nop()
	connector := &MetaConnector{
		Bridge: &bridgev2.Bridge{Log: log},
		Config: Config{},
	}
	login := &bridgev2.UserLogin{
		UserLogin: &database.UserLogin{Metadata: &UserLoginMetadata{}},
		Log:       log,
	}
	mc := NewMetaClient(login, connector)
	mc.eventSender = &mockEventSender{}
	return mc
}

// makeTestPortal creates a minimal bridgev2.Portal for testing.
func makeTestPortal(threadID string) *bridgev2.Portal {
	return &bridgev2.Portal{
		Portal: &database.Portal{
			PortalKey: networkid.PortalKey{
				ID: MakePortalID(threadID),
			},
		},
	}
}
