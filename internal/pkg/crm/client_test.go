package crm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, APIVersion: "2021-07-28", HTTPClient: &http.Client{Timeout: 2 * time.Second}}
}

func TestClientSendsVersionAndBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
		assert.Equal(t, "2021-07-28", r.Header.Get("Version"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "/locations/L1", r.URL.Path)
		_, _ = w.Write([]byte(`{"location":{"id":"L1","name":"Main Street Dental"}}`))
	}))
	defer srv.Close()

	loc, err := newTestClient(srv.URL).GetLocation(context.Background(), "T1", "L1")
	require.NoError(t, err)
	assert.Equal(t, "Main Street Dental", loc.Name)
}

func TestClientClassifiesErrors(t *testing.T) {
	tests := []struct {
		status    int
		kind      Kind
		transient bool
	}{
		{http.StatusUnauthorized, KindAuth, false},
		{http.StatusNotFound, KindNotFound, false},
		{http.StatusUnprocessableEntity, KindOther, false},
		{http.StatusTooManyRequests, KindOther, true},
		{http.StatusBadGateway, KindOther, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).ListCustomFields(context.Background(), "T1", "L1")
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind))
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestClientTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := newTestClient(srv.URL).UpdateContactField(context.Background(), "T1", "C1", "F1", "hello")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.True(t, IsKind(err, KindOther))
}

func TestCreateCustomField_ResponseShapes(t *testing.T) {
	bodies := map[string]string{
		"wrapped": `{"customField":{"id":"F1","name":"Transcription","dataType":"TEXT"}}`,
		"bare":    `{"id":"F1","name":"Transcription","dataType":"TEXT"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/locations/L1/customFields", r.URL.Path)
				var in CustomField
				require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
				assert.Equal(t, TranscriptionField(), in)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			f, err := newTestClient(srv.URL).CreateCustomField(context.Background(), "T1", "L1", TranscriptionField())
			require.NoError(t, err)
			assert.Equal(t, "F1", f.ID)
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()
	_, err := newTestClient(srv.URL).CreateCustomField(context.Background(), "T1", "L1", TranscriptionField())
	assert.Error(t, err)
}

func TestUpdateContactFieldAndInboundMessageBodies(t *testing.T) {
	var gotContact, gotMessage map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/contacts/C1":
			assert.Equal(t, http.MethodPut, r.Method)
			require.NoError(t, json.Unmarshal(data, &gotContact))
			_, _ = w.Write([]byte(`{"succeded":true}`))
		case "/conversations/messages/inbound":
			assert.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.Unmarshal(data, &gotMessage))
			_, _ = w.Write([]byte(`{"conversationId":"CV1","messageId":"M1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	require.NoError(t, c.UpdateContactField(context.Background(), "T1", "C1", "F1", "hello"))
	res, err := c.PostInboundMessage(context.Background(), "T1", "CV1", "hi there", "SMS")
	require.NoError(t, err)
	assert.Equal(t, "M1", res.MessageID)

	fields := gotContact["customFields"].([]interface{})
	require.Len(t, fields, 1)
	assert.Equal(t, "F1", fields[0].(map[string]interface{})["id"])
	assert.Equal(t, "hello", fields[0].(map[string]interface{})["field_value"])
	assert.Equal(t, "SMS", gotMessage["type"])
	assert.Equal(t, "CV1", gotMessage["conversationId"])
	assert.Equal(t, "hi there", gotMessage["message"])
}

func TestClientRequiresToken(t *testing.T) {
	_, err := newTestClient("http://unused").GetLocation(context.Background(), "", "L1")
	assert.True(t, IsKind(err, KindAuth))
}

func TestClientLimiterHonoursContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"customFields":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	_, err := c.ListCustomFields(context.Background(), "T1", "L1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListCustomFields(ctx, "T1", "L1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}
