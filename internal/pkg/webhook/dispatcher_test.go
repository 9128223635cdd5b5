package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/VoxRelay/app/models"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/credentials"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/crm"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/database"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/pipeline"
)

type fakeCreds struct {
	mu       sync.Mutex
	token    string
	tokenErr error
	current  *models.Credential
	bindErr  error
	bound    []string
}

func (f *fakeCreds) ValidToken(ctx context.Context) (string, error) {
	return f.token, f.tokenErr
}

func (f *fakeCreds) Current(ctx context.Context) (*models.Credential, error) {
	if f.current == nil {
		return nil, &credentials.NoCredentialError{Reason: "none"}
	}
	return f.current, nil
}

func (f *fakeCreds) BindLocation(ctx context.Context, locationID string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bindErr != nil {
		return nil, f.bindErr
	}
	f.bound = append(f.bound, locationID)
	return &models.Credential{ID: 1, LocationID: &locationID}, nil
}

type fakeRunner struct {
	requests []pipeline.Request
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) *pipeline.Report {
	f.requests = append(f.requests, req)
	return &pipeline.Report{EventID: "ev"}
}

type fakeEnsurer struct {
	calls []string
	err   error
}

func (f *fakeEnsurer) Ensure(ctx context.Context, token, locationID string) (string, error) {
	f.calls = append(f.calls, token+"@"+locationID)
	return "F1", f.err
}

func mustParse(t *testing.T, body string) *Event {
	t.Helper()
	ev, err := Parse([]byte(body))
	require.NoError(t, err)
	return ev
}

func TestEventRoute(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		route     Route
		malformed bool
	}{
		{"install", `{"type":"INSTALL","locationId":"L1"}`, RouteInstall, false},
		{"install lower case", `{"type":"install","locationId":"L1"}`, RouteInstall, false},
		{"install without location", `{"type":"INSTALL"}`, "", true},
		{"sms with attachment", `{"type":"InboundMessage","messageType":"SMS","conversationId":"C1","attachments":["http://x/a.mp3"]}`, RouteTranscribe, false},
		{"message type is case insensitive", `{"messageType":"whatsapp","conversationId":"C1","attachments":[{"url":"http://x/a.ogg"}]}`, RouteTranscribe, false},
		{"message without conversation", `{"messageType":"SMS","attachments":["http://x/a.mp3"]}`, "", true},
		{"inbound without message type", `{"type":"InboundMessage","conversationId":"C1"}`, "", true},
		{"no attachments", `{"messageType":"SMS","conversationId":"C1"}`, RouteIgnore, false},
		{"unknown message type", `{"messageType":"Fax","conversationId":"C1","attachments":["http://x/a.mp3"]}`, RouteIgnore, false},
		{"unrelated event", `{"type":"ContactCreate","locationId":"L1"}`, RouteIgnore, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := mustParse(t, tt.body).Route()
			if tt.malformed {
				var merr *MalformedEventError
				require.True(t, errors.As(err, &merr), "got %v", err)
				assert.Equal(t, ClassCaller, Classify(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.route, route)
		})
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	for _, body := range []string{`{`, `{"attachments":[42]}`, `[]`} {
		_, err := Parse([]byte(body))
		assert.Equal(t, ClassCaller, Classify(err), body)
	}
}

func TestCanonicalMessageType(t *testing.T) {
	mt, ok := CanonicalMessageType(" live_chat ")
	assert.True(t, ok)
	assert.Equal(t, "Live_Chat", mt)

	_, ok = CanonicalMessageType("Fax")
	assert.False(t, ok)
}

func TestDispatchInstallBindsAndEnsuresField(t *testing.T) {
	creds := &fakeCreds{token: "T1"}
	fields := &fakeEnsurer{}
	d := NewDispatcher(creds, &fakeRunner{}, fields)

	out, err := d.Dispatch(context.Background(), mustParse(t, `{"type":"INSTALL","locationId":"L1"}`))
	require.NoError(t, err)
	assert.Equal(t, RouteInstall, out.Route)
	assert.False(t, out.Deferred)
	assert.Equal(t, []string{"L1"}, creds.bound)
	assert.Equal(t, []string{"T1@L1"}, fields.calls)
}

func TestDispatchInstallWithoutCredentialIsAcknowledged(t *testing.T) {
	creds := &fakeCreds{bindErr: credentials.ErrNotFound}
	fields := &fakeEnsurer{}
	d := NewDispatcher(creds, &fakeRunner{}, fields)

	out, err := d.Dispatch(context.Background(), mustParse(t, `{"type":"INSTALL","locationId":"L1"}`))
	require.NoError(t, err)
	assert.True(t, out.Deferred)
	assert.Empty(t, fields.calls)
}

func TestDispatchInstallConflict(t *testing.T) {
	creds := &fakeCreds{bindErr: &credentials.ConflictError{Bound: "L1", Requested: "L2"}}
	d := NewDispatcher(creds, &fakeRunner{}, &fakeEnsurer{})

	_, err := d.Dispatch(context.Background(), mustParse(t, `{"type":"INSTALL","locationId":"L2"}`))
	assert.Equal(t, ClassConflict, Classify(err))
}

func TestDispatchInstallFieldFailureIsLoggedOnly(t *testing.T) {
	creds := &fakeCreds{token: "T1"}
	d := NewDispatcher(creds, &fakeRunner{}, &fakeEnsurer{err: errors.New("crm down")})

	_, err := d.Dispatch(context.Background(), mustParse(t, `{"type":"INSTALL","locationId":"L1"}`))
	assert.NoError(t, err)
}

func TestDispatchMessageSnapshotsTokenAndLocation(t *testing.T) {
	loc := "L9"
	creds := &fakeCreds{token: "T1", current: &models.Credential{ID: 3, LocationID: &loc}}
	runner := &fakeRunner{}
	d := NewDispatcher(creds, runner, nil)

	body := `{"type":"InboundMessage","messageType":"sms","conversationId":"C1","contactId":"P1","attachments":["http://x/a.mp3",{"url":"http://x/b.mp3"}]}`
	out, err := d.Dispatch(context.Background(), mustParse(t, body))
	require.NoError(t, err)
	assert.Equal(t, RouteTranscribe, out.Route)
	assert.Equal(t, "L9", out.LocationID)

	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	assert.Equal(t, "T1", req.Token)
	assert.Equal(t, "L9", req.LocationID)
	assert.Equal(t, "SMS", req.MessageType)
	assert.Equal(t, "P1", req.ContactID)
	require.Len(t, req.Attachments, 2)
	assert.Equal(t, "http://x/b.mp3", req.Attachments[1].URL)
}

func TestDispatchMessageWithoutTokenIsInternal(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(&fakeCreds{tokenErr: &credentials.NoCredentialError{Reason: "none"}}, runner, nil)

	_, err := d.Dispatch(context.Background(), mustParse(t, `{"messageType":"SMS","conversationId":"C1","attachments":["http://x/a.mp3"]}`))
	assert.Equal(t, ClassInternal, Classify(err))
	assert.Empty(t, runner.requests)
}

func TestDispatchMalformedHasNoSideEffects(t *testing.T) {
	creds := &fakeCreds{token: "T1"}
	runner := &fakeRunner{}
	d := NewDispatcher(creds, runner, &fakeEnsurer{})

	_, err := d.Dispatch(context.Background(), mustParse(t, `{"messageType":"SMS","attachments":["http://x/a.mp3"]}`))
	assert.Equal(t, ClassCaller, Classify(err))
	assert.Empty(t, runner.requests)
	assert.Empty(t, creds.bound)
}

type noRefresh struct{}

func (noRefresh) ExchangeCode(ctx context.Context, code string) (*crm.TokenResponse, error) {
	return nil, errors.New("unexpected exchange")
}

func (noRefresh) RefreshToken(ctx context.Context, refreshToken string) (*crm.TokenResponse, error) {
	return nil, errors.New("unexpected refresh")
}

type echoTranscriber struct{}

func (echoTranscriber) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	return " hello from " + fileName + " ", nil
}

type noTranscode struct{}

func (noTranscode) Transcode(ctx context.Context, data []byte, from, to string) ([]byte, error) {
	return nil, errors.New("unexpected transcode")
}

// Install followed by an SMS with one attachment, against real storage and
// stub CRM and attachment hosts.
func TestInstallThenSMSScenario(t *testing.T) {
	db, err := database.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	store := credentials.NewStore(db)
	_, err = store.Save(context.Background(), "T1", "R1", time.Hour, nil)
	require.NoError(t, err)
	manager := credentials.NewManager(store, noRefresh{})

	var mu sync.Mutex
	var calls []string
	var inbound crm.InboundMessage
	crmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer T1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "GET /locations/L1/customFields":
			_, _ = io.WriteString(w, `{"customFields":[{"id":"X","name":"Notes"}]}`)
		case "POST /locations/L1/customFields":
			_, _ = io.WriteString(w, `{"customField":{"id":"F1","name":"Transcription","dataType":"TEXT"}}`)
		case "POST /conversations/messages/inbound":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			_ = json.Unmarshal(body, &inbound)
			mu.Unlock()
			_, _ = io.WriteString(w, `{"conversationId":"C1","messageId":"M1"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer crmSrv.Close()

	var downloads atomic.Int32
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3\x03\x00\x00\x00\x00\x00\x00voice"))
	}))
	defer files.Close()

	client := &crm.Client{BaseURL: crmSrv.URL, APIVersion: "2021-07-28", HTTPClient: crmSrv.Client()}
	fields := pipeline.NewFieldResolver(client, nil)
	p := pipeline.New(&pipeline.Downloader{Client: files.Client(), MaxBytes: 1 << 20},
		noTranscode{}, echoTranscriber{}, client, fields, pipeline.WithWriteRetries(0, 0))
	d := NewDispatcher(manager, p, fields)

	_, err = d.Dispatch(context.Background(), mustParse(t, `{"type":"INSTALL","locationId":"L1"}`))
	require.NoError(t, err)

	cur, err := manager.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "L1", cur.Location())

	msg := `{"messageType":"SMS","conversationId":"C1","attachments":["` + files.URL + `/a.mp3"]}`
	out, err := d.Dispatch(context.Background(), mustParse(t, msg))
	require.NoError(t, err)
	require.NotNil(t, out.Report)
	assert.Equal(t, "L1", out.LocationID)
	assert.Equal(t, int32(1), downloads.Load())

	results := out.Report.Transcriptions()
	require.Len(t, results, 1)
	assert.Equal(t, "hello from a.mp3", results[0].TranscriptText)
	assert.Empty(t, out.Report.Dropped())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "SMS", inbound.Type)
	assert.Equal(t, "C1", inbound.ConversationID)
	assert.Equal(t, pipeline.MessagePrefix+"hello from a.mp3", inbound.Message)
	assert.Equal(t, []string{
		"GET /locations/L1/customFields",
		"POST /locations/L1/customFields",
		"POST /conversations/messages/inbound",
	}, calls)
	// The event carries no contactId, so only the contact write is reported.
	assert.Equal(t, 1, out.Report.DeliveryFailures())
}
