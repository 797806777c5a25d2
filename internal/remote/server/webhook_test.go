package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kilupskalvis/stackmig/internal/remote/metastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChanges = []*metastore.Change{
	{Number: 5, Type: "USER", RowID: 1, Op: metastore.ChangeUpsert, Etag: "e1"},
	{Number: 6, Type: "USER", RowID: 2, Op: metastore.ChangeDelete},
}

func TestNewWebhookNotifier_NilConfig(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier(nil, quietLogger()))
	assert.Nil(t, NewWebhookNotifier(&WebhookConfig{}, quietLogger()))
}

func TestWebhookNotifier_NilReceiver(t *testing.T) {
	var wn *WebhookNotifier
	assert.NoError(t, wn.NotifyChanges(context.Background(), testChanges))
}

func TestWebhookNotifier_Delivers(t *testing.T) {
	var got ChangeEvent
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, quietLogger())
	require.NoError(t, wn.NotifyChanges(context.Background(), testChanges))

	assert.Equal(t, "changes", got.Event)
	require.Len(t, got.Changes, 2)
	assert.Equal(t, metastore.ChangeDelete, got.Changes[1].Op)
	assert.NotEmpty(t, got.Timestamp)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, quietLogger())
	wn.retryDelay = time.Millisecond

	require.NoError(t, wn.NotifyChanges(context.Background(), testChanges))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookNotifier_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, quietLogger())
	wn.retryDelay = time.Millisecond

	err := wn.NotifyChanges(context.Background(), testChanges)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.EqualValues(t, 1, calls.Load())
}

func TestWebhookNotifier_EmptyBatch(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, quietLogger())
	require.NoError(t, wn.NotifyChanges(context.Background(), nil))
	assert.Zero(t, calls.Load())
}
