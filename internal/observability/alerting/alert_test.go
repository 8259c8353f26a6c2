package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
)

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Channel() Channel { return "test" }

func (r *recorder) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}}
	err := n.Notify(context.Background(), Event{Code: xerrors.CodeInitializationFailure, Plugin: "mongo"})
	require.NoError(t, err)
	assert.Equal(t, "mongo", got.Plugin)
	assert.Equal(t, xerrors.CodeInitializationFailure, got.Code)
}

func TestWebhookNotifierReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	assert.Error(t, (&WebhookNotifier{URL: srv.URL}).Notify(context.Background(), Event{}))
	assert.NoError(t, (&WebhookNotifier{}).Notify(context.Background(), Event{}))
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recorder{}
	d := NewFanout(ok, nil, LogNotifier{})
	require.NoError(t, d.Notify(context.Background(), Event{Code: xerrors.CodeUnknown}))
	assert.Len(t, ok.events, 1)

	failing := &recorder{err: errors.New("down")}
	assert.Error(t, NewFanout(failing).Notify(context.Background(), Event{}))
	var nilFanout *FanoutDispatcher
	assert.NoError(t, nilFanout.Notify(context.Background(), Event{}))
}

func TestEmitOnlyForAlertingErrors(t *testing.T) {
	r := &recorder{}
	d := NewFanout(r)
	Emit(context.Background(), d, xerrors.New(xerrors.CodeMissingDependency, "gone"), "a", "provider", "bootstrap")
	assert.Empty(t, r.events)

	err := xerrors.New(xerrors.CodeInitializationFailure, "init failed", xerrors.WithMetadata("dependency", "db"))
	Emit(context.Background(), d, err, "a", "provider", "bootstrap")
	require.Len(t, r.events, 1)
	assert.Equal(t, "a", r.events[0].Plugin)
	assert.Equal(t, "db", r.events[0].Metadata["dependency"])
	assert.Equal(t, xerrors.SeverityWarning, r.events[0].Severity)

	Emit(context.Background(), nil, err, "a", "provider", "bootstrap")
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig(Config{}))
	d := FromConfig(Config{Enabled: true, Webhook: "http://example.invalid"})
	require.NotNil(t, d)
	assert.Len(t, d.(*FanoutDispatcher).notifiers, 2)
}
