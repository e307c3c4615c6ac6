package relay

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionhost/logger"
)

func init() {
	logger.InitLogger("error")
}

// newClientPair stands up an httptest server that upgrades every connection
// with gorilla/websocket and hands the server-side *websocket.Conn back over
// a channel, returning it paired with the gorilla client dialed against it
// (standing in for "the real browser-session caller" in these tests).
func newClientPair(t *testing.T) (serverConn, clientConn *websocket.Conn, cleanup func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- c
	}))

	wsURL := "ws" + srv.URL[len("http"):]
	dialed, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	server := <-connCh
	return server, dialed, func() {
		_ = server.Close()
		_ = dialed.Close()
		srv.Close()
	}
}

func TestForwardClientToBrowser_TranslatesTextFrame(t *testing.T) {
	serverConn, realClient, cleanup := newClientPair(t)
	defer cleanup()

	browserConn, browserPeer := net.Pipe()
	defer browserConn.Close()
	defer browserPeer.Close()

	go forwardClientToBrowser(serverConn, browserConn)

	require.NoError(t, realClient.WriteMessage(websocket.TextMessage, []byte("hello browser")))

	header, err := ws.ReadHeader(browserPeer)
	require.NoError(t, err)
	assert.Equal(t, ws.OpText, header.OpCode)

	payload := make([]byte, header.Length)
	_, err = io.ReadFull(browserPeer, payload)
	require.NoError(t, err)
	if header.Masked {
		ws.Cipher(payload, header.Mask, 0)
	}
	assert.Equal(t, "hello browser", string(payload))
}

func TestForwardClientToBrowser_ForwardsPing(t *testing.T) {
	serverConn, realClient, cleanup := newClientPair(t)
	defer cleanup()

	browserConn, browserPeer := net.Pipe()
	defer browserConn.Close()
	defer browserPeer.Close()

	go forwardClientToBrowser(serverConn, browserConn)

	require.NoError(t, realClient.WriteControl(websocket.PingMessage, []byte("ping-data"), time.Now().Add(time.Second)))

	header, err := ws.ReadHeader(browserPeer)
	require.NoError(t, err)
	assert.Equal(t, ws.OpPing, header.OpCode)
}

func TestForwardBrowserToClient_TranslatesTextFrame(t *testing.T) {
	serverConn, realClient, cleanup := newClientPair(t)
	defer cleanup()

	browserConn, browserPeer := net.Pipe()
	defer browserConn.Close()
	defer browserPeer.Close()

	go forwardBrowserToClient(browserConn, serverConn)

	require.NoError(t, wsutil.WriteServerMessage(browserPeer, ws.OpText, []byte("hello client")))

	messageType, payload, err := realClient.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, "hello client", string(payload))
}

func TestForwardBrowserToClient_ForwardsPing(t *testing.T) {
	serverConn, realClient, cleanup := newClientPair(t)
	defer cleanup()

	browserConn, browserPeer := net.Pipe()
	defer browserConn.Close()
	defer browserPeer.Close()

	pingCh := make(chan string, 1)
	realClient.SetPingHandler(func(data string) error {
		pingCh <- data
		return nil
	})
	go func() {
		for {
			if _, _, err := realClient.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go forwardBrowserToClient(browserConn, serverConn)

	require.NoError(t, wsutil.WriteServerMessage(browserPeer, ws.OpPing, []byte("browser-ping")))

	select {
	case data := <-pingCh:
		assert.Equal(t, "browser-ping", data)
	case <-time.After(time.Second):
		t.Fatal("ping was not forwarded to the client")
	}
}

func TestForwardBrowserToClient_ReassemblesFragmentedMessage(t *testing.T) {
	serverConn, realClient, cleanup := newClientPair(t)
	defer cleanup()

	browserConn, browserPeer := net.Pipe()
	defer browserConn.Close()
	defer browserPeer.Close()

	go forwardBrowserToClient(browserConn, serverConn)

	writeFrame(t, browserPeer, ws.Header{Fin: false, OpCode: ws.OpText, Length: int64(len("hello "))}, []byte("hello "))
	writeFrame(t, browserPeer, ws.Header{Fin: true, OpCode: ws.OpContinuation, Length: int64(len("world"))}, []byte("world"))

	messageType, payload, err := realClient.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, "hello world", string(payload))
}

func writeFrame(t *testing.T, w io.Writer, header ws.Header, payload []byte) {
	t.Helper()
	header.Length = int64(len(payload))
	require.NoError(t, ws.WriteHeader(w, header))
	_, err := w.Write(payload)
	require.NoError(t, err)
}
