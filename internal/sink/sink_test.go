package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/domwait/internal/config"
	"github.com/hazyhaar/domwait/internal/dbopen"
	"github.com/hazyhaar/domwait/internal/htmldom"
	"github.com/hazyhaar/domwait/mutation"
	"github.com/hazyhaar/domwait/recognize"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func sample() Event {
	return Event{
		ID:          "evt_1",
		Recognizer:  "panel",
		Session:     "rs_1",
		Outcome:     OutcomeRecognized,
		Description: `{"target":"div#root"}`,
		Kind:        "childList",
		Node:        "div.panel",
		XPath:       "/html/body/div/div",
		Text:        "Hello",
		Timestamp:   1700000000000,
	}
}

func TestRecognized(t *testing.T) {
	d, err := htmldom.ParseString(`<html><body><div id="root" aria-expanded="true">Hi</div></body></html>`)
	require.NoError(t, err)
	root := d.ByID("root")

	e := Recognized("toggle", "desc", recognize.Match{
		Kind:      mutation.KindAttribute,
		Node:      root,
		Attribute: &recognize.Attribute{Name: "aria-expanded", Value: "true", Present: true},
	})
	require.Equal(t, "toggle", e.Recognizer)
	require.Equal(t, OutcomeRecognized, e.Outcome)
	require.Equal(t, mutation.KindAttribute.String(), e.Kind)
	require.Equal(t, mutation.Label(root), e.Node)
	require.Equal(t, "aria-expanded", e.Attribute)
	require.Equal(t, "true", e.Value)
	require.True(t, e.Present)
	require.Equal(t, "Hi", e.Text)
	require.NotZero(t, e.Timestamp)
}

func TestTimedOut(t *testing.T) {
	e := TimedOut("panel", "desc")
	require.Equal(t, OutcomeTimeout, e.Outcome)
	require.Empty(t, e.Node)
	require.Equal(t, "desc", e.Description)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "ab", truncate("abcdef", 2))
	// "é" is two bytes; cutting at 2 would split it.
	require.Equal(t, "a", truncate("aé", 2))
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	require.NoError(t, s.Send(context.Background(), sample()))
	require.NoError(t, s.Send(context.Background(), TimedOut("x", "d")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var got struct {
		Type string `json:"type"`
		Data Event  `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	require.Equal(t, "recognition", got.Type)
	require.Equal(t, sample(), got.Data)
}

func TestWebhook_Delivers(t *testing.T) {
	var (
		got        Event
		method, ct string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, ct = r.Method, r.Header.Get("Content-Type")
		var env struct {
			Type string `json:"type"`
			Data Event  `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got = env.Data
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookLogger(quiet))
	require.NoError(t, w.Send(context.Background(), sample()))
	require.Equal(t, http.MethodPost, method)
	require.Equal(t, "application/json", ct)
	require.Equal(t, "panel", got.Recognizer)
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookLogger(quiet), WithWebhookBackoff(time.Millisecond))
	require.NoError(t, w.Send(context.Background(), sample()))
	require.EqualValues(t, 3, hits.Load())
}

func TestWebhook_Exhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL,
		WithWebhookLogger(quiet),
		WithWebhookRetries(2),
		WithWebhookBackoff(time.Millisecond))
	err := w.Send(context.Background(), sample())
	require.ErrorContains(t, err, "all retries exhausted")
	require.ErrorContains(t, err, "status 500")
	require.EqualValues(t, 3, hits.Load())
}

func TestWebhook_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w := NewWebhook(srv.URL, WithWebhookLogger(quiet), WithWebhookBackoff(time.Hour))
	err := w.Send(ctx, sample())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallback(t *testing.T) {
	var got []Event
	cb := Callback(func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, cb.Send(context.Background(), sample()))
	require.Len(t, got, 1)

	var nilCB Callback
	require.NoError(t, nilCB.Send(context.Background(), sample()))
}

func TestRouter_FanOutAndFirstError(t *testing.T) {
	boom := errors.New("boom")
	var a, b int
	r := NewRouter(quiet,
		Callback(func(context.Context, Event) error { a++; return boom }),
		Callback(func(context.Context, Event) error { b++; return errors.New("second") }),
	)
	require.Equal(t, 2, r.Len())

	err := r.Send(context.Background(), sample())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, a)
	require.Equal(t, 1, b, "a failing sink must not block the others")
	require.NoError(t, r.Close())
}

func TestSQLite(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(SQLiteSchema))
	s := NewSQLite(db)
	ctx := context.Background()

	e := sample()
	e.Attribute, e.Value, e.Present = "aria-expanded", "true", true
	require.NoError(t, s.Send(ctx, e))
	require.Error(t, s.Send(ctx, e), "duplicate ID")

	var (
		outcome, node, attr string
		present             int
		ts                  int64
	)
	err := db.QueryRowContext(ctx,
		`SELECT outcome, node, attribute, present, timestamp FROM recognitions WHERE id = ?`, e.ID).
		Scan(&outcome, &node, &attr, &present, &ts)
	require.NoError(t, err)
	require.Equal(t, OutcomeRecognized, outcome)
	require.Equal(t, "div.panel", node)
	require.Equal(t, "aria-expanded", attr)
	require.Equal(t, 1, present)
	require.Equal(t, e.Timestamp, ts)

	require.NoError(t, s.Close())
	require.NoError(t, db.PingContext(ctx), "a borrowed database stays open")
}

func TestFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "out.db")
	r, err := FromConfig([]config.SinkConfig{
		{Type: "stdout"},
		{Type: "webhook", URL: "http://127.0.0.1:1/hook"},
		{Type: "sqlite", Path: path},
	}, quiet)
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())
	require.NoError(t, r.Close())

	_, err = FromConfig([]config.SinkConfig{{Type: "kafka"}}, quiet)
	require.ErrorContains(t, err, `unknown type "kafka"`)
}
