package aistream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

// echoServer upgrades and echoes every binary message back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type audioCollector struct {
	mu     sync.Mutex
	bursts [][]byte
}

func (a *audioCollector) onAudio(pcm []byte) {
	a.mu.Lock()
	a.bursts = append(a.bursts, append([]byte(nil), pcm...))
	a.mu.Unlock()
}

func (a *audioCollector) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bursts)
}

func TestChannelRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	col := &audioCollector{}
	ch, err := Dial(context.Background(), wsURL(srv), col.onAudio)
	require.NoError(t, err)
	defer ch.Close()

	frame := make([]int16, 480)
	for i := range frame {
		frame[i] = int16(i - 240)
	}
	require.NoError(t, ch.SendFrame(frame))

	deadline := time.Now().Add(2 * time.Second)
	for col.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, col.count())

	// The echoed message is the frame's little-endian encoding.
	col.mu.Lock()
	burst := col.bursts[0]
	col.mu.Unlock()
	require.Len(t, burst, 960)
	for i, s := range frame {
		got := int16(burst[i*2]) | int16(burst[i*2+1])<<8
		require.Equal(t, s, got)
	}
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	ch, err := Dial(context.Background(), wsURL(srv), func([]byte) {})
	require.NoError(t, err)

	assert.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())

	assert.ErrorIs(t, ch.SendFrame(make([]int16, 480)), ErrChannelClosed)
}

func TestDialValidation(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1", nil)
	assert.Error(t, err)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:9", func([]byte) {})
	assert.Error(t, err)
}
