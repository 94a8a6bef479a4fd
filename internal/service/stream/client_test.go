package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedServer(t *testing.T, frames []string, gotSub chan<- subscribeRequest, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		gotSub <- sub
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
}

func TestClientStreamsSnapshots(t *testing.T) {
	gotSub := make(chan subscribeRequest, 1)
	gotAuth := make(chan string, 1)
	srv := feedServer(t, []string{
		`{"type":"heartbeat"}`,
		`{"type":"snapshot","data":{"market_id":"1.1","timestamp":"2024-06-01T14:50:00Z","market_start_time":"2024-06-01T15:00:00Z","status":"OPEN","runners":[{"selection_id":7,"ltp":2.5}]}}`,
		`not json`,
		`{"type":"snapshot","data":{"market_id":"1.1","timestamp":"2024-06-01T14:50:01Z","market_start_time":"2024-06-01T15:00:00Z","status":"CLOSED"}}`,
	}, gotSub, gotAuth)
	defer srv.Close()

	c := New(Config{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:     "secret",
		MarketIDs: []string{"1.1"},
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx))
	assert.Equal(t, "Bearer secret", <-gotAuth)
	assert.Equal(t, subscribeRequest{Op: "subscribe", MarketIDs: []string{"1.1"}}, <-gotSub)

	snaps, errs := c.Read(ctx)
	var got []string
	for s := range snaps {
		got = append(got, string(s.Status))
		if len(got) == 1 {
			require.Len(t, s.Runners, 1)
			assert.Equal(t, 2.5, s.Runners[0].LastTradedPrice)
		}
	}
	assert.Equal(t, []string{"OPEN", "CLOSED"}, got)
	assert.Error(t, <-errs, "server close surfaces as a read error")
	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1"}, nil)
	assert.ErrorIs(t, c.Subscribe(context.Background()), ErrNotConnected)
}

func TestDecodeFrame(t *testing.T) {
	s, err := decodeFrame([]byte(`{"type":"heartbeat"}`))
	assert.NoError(t, err)
	assert.Nil(t, s)

	_, err = decodeFrame([]byte(`{"type":"error","data":"rate limited"}`))
	assert.ErrorContains(t, err, "rate limited")

	_, err = decodeFrame([]byte(`{"type":"snapshot","data":[]}`))
	assert.Error(t, err)
}
