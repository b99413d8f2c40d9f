package fanout

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/DSMRDatalogger/internal/delivery/api"
	"github.com/Chichichkin/DSMRDatalogger/internal/dsmr"
	"github.com/Chichichkin/DSMRDatalogger/internal/testutils"
)

var sampleTelegram = dsmr.Telegram(strings.Join([]string{"/ISk5\\2MT382-1000\r\n", "1-3:0.2.1(50)\r\n", "!A1B2\r\n"}, ""))

func statusServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, string(sampleTelegram), r.PostForm.Get("telegram"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func refusedURL() string {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()
	return addr
}

func TestFanOut_IsolatesFailures(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		var firstHits, thirdHits int32
		first := statusServer(t, http.StatusCreated, "", &firstHits)
		third := statusServer(t, http.StatusInternalServerError, "boom", &thirdHits)

		logger, logs := testutils.NewTestLogger()
		config := dsmr.Config{
			Destinations: []dsmr.Destination{
				{URL: first.URL, APIKey: "k1"},
				{URL: refusedURL(), APIKey: "k2"},
				{URL: third.URL, APIKey: "k3"},
			},
			Parallel: parallel,
		}

		f := New(api.NewSender(time.Second), config, logger)
		outcomes := f.Deliver(context.Background(), sampleTelegram)

		require.Len(t, outcomes, 3)
		assert.True(t, outcomes[0].OK())
		assert.False(t, outcomes[1].OK())
		assert.Equal(t, 0, outcomes[1].StatusCode)
		assert.False(t, outcomes[2].OK())
		assert.Equal(t, http.StatusInternalServerError, outcomes[2].StatusCode)

		for i, outcome := range outcomes {
			assert.Equal(t, config.Destinations[i], outcome.Destination)
		}

		assert.Equal(t, int32(1), atomic.LoadInt32(&firstHits))
		assert.Equal(t, int32(1), atomic.LoadInt32(&thirdHits))
		assert.Len(t, logs.Lines("level=ERROR"), 2, "parallel=%v", parallel)
		assert.Len(t, logs.Lines("Sending telegram"), 3)
	}
}

func TestFanOut_SingleDestinationCreated(t *testing.T) {
	server := statusServer(t, http.StatusCreated, "", nil)
	logger, logs := testutils.NewTestLogger()

	f := New(api.NewSender(time.Second), dsmr.Config{
		Destinations: []dsmr.Destination{{URL: server.URL, APIKey: "key"}},
	}, logger)
	outcomes := f.Deliver(context.Background(), sampleTelegram)

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK())
	assert.Empty(t, logs.Lines("level=ERROR"))
}

func TestFanOut_SingleDestinationForbidden(t *testing.T) {
	server := statusServer(t, http.StatusForbidden, "forbidden", nil)
	logger, logs := testutils.NewTestLogger()

	f := New(api.NewSender(time.Second), dsmr.Config{
		Destinations: []dsmr.Destination{{URL: server.URL, APIKey: "key"}},
	}, logger)
	outcomes := f.Deliver(context.Background(), sampleTelegram)

	require.Len(t, outcomes, 1)
	assert.Equal(t, http.StatusForbidden, outcomes[0].StatusCode)

	errorLines := logs.Lines("level=ERROR")
	require.Len(t, errorLines, 1)
	assert.Contains(t, errorLines[0], "403")
	assert.Contains(t, errorLines[0], "forbidden")
}

type panicSender struct{}

func (panicSender) Send(ctx context.Context, telegram dsmr.Telegram, destination dsmr.Destination) error {
	if destination.URL == "http://panic" {
		panic("nil transport")
	}
	return nil
}

func TestFanOut_RecoversFromPanickingSender(t *testing.T) {
	logger, logs := testutils.NewTestLogger()
	f := New(panicSender{}, dsmr.Config{
		Destinations: []dsmr.Destination{{URL: "http://panic"}, {URL: "http://fine"}},
	}, logger)

	outcomes := f.Deliver(context.Background(), sampleTelegram)

	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	assert.True(t, outcomes[1].OK())
	assert.Len(t, logs.Lines("level=ERROR"), 1)
}

func TestFanOut_OutcomeHookAndOrder(t *testing.T) {
	sender := &testutils.MockSender{
		Failures: map[string]error{"http://b": errors.New("dial tcp: connection refused")},
	}
	logger, _ := testutils.NewTestLogger()

	var seen []dsmr.Outcome
	f := New(sender, dsmr.Config{
		Destinations: []dsmr.Destination{{URL: "http://a"}, {URL: "http://b"}, {URL: "http://c"}},
	}, logger, WithOutcomeHook(func(o dsmr.Outcome) { seen = append(seen, o) }))

	outcomes := f.Deliver(context.Background(), sampleTelegram)

	sent := sender.GetSent()
	require.Len(t, sent, 3)
	assert.Equal(t, "http://a", sent[0].Destination.URL)
	assert.Equal(t, "http://b", sent[1].Destination.URL)
	assert.Equal(t, "http://c", sent[2].Destination.URL)
	assert.Equal(t, outcomes, seen)
	assert.False(t, outcomes[1].OK())
}

func TestFanOut_NoDestinations(t *testing.T) {
	logger, _ := testutils.NewTestLogger()
	f := New(&testutils.MockSender{}, dsmr.Config{}, logger)
	assert.Empty(t, f.Deliver(context.Background(), sampleTelegram))
}
