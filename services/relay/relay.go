// Package relay bridges a client-facing WebSocket connection (accepted with
// gorilla/websocket) to a browser debugger WebSocket connection (dialed with
// gobwas/ws), translating frames between the two libraries' representations
// until either side ends the conversation.
package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sessionhost/logger"
)

// SessionReleaser is the pool's Release, narrowed to the one method the
// relay needs so this package doesn't depend on browserpool.
type SessionReleaser interface {
	Release(id string)
}

const writeControlDeadline = 5 * time.Second

// Relay dials the instance's debugger endpoint and forwards frames between
// it and clientConn until either side closes, errs, or the session
// disappears. It always releases sessionID exactly once before returning,
// per spec.md §4.4's end-of-proxy-is-end-of-session contract.
func Relay(ctx context.Context, clientConn *websocket.Conn, sessionID, debuggerURL string, releaser SessionReleaser) error {
	defer releaser.Release(sessionID)

	browserConn, _, _, err := ws.Dial(ctx, debuggerURL)
	if err != nil {
		return fmt.Errorf("failed to dial browser debugger endpoint: %w", err)
	}
	defer browserConn.Close()

	done := make(chan struct{}, 2)

	go func() {
		forwardClientToBrowser(clientConn, browserConn)
		done <- struct{}{}
	}()
	go func() {
		forwardBrowserToClient(browserConn, clientConn)
		done <- struct{}{}
	}()

	// First loop to terminate wins; closing both connections unblocks
	// whichever loop is still parked in a blocking read, mirroring the
	// select-race-then-cancel pattern of a synchronous two-goroutine relay.
	<-done
	_ = clientConn.Close()
	_ = browserConn.Close()
	<-done

	return nil
}

// forwardClientToBrowser reads whole messages from the gorilla-side
// connection and re-encodes them for the gobwas-side connection. Control
// frames are intercepted via gorilla's handler hooks (set once, invoked
// synchronously inside ReadMessage) instead of gorilla's default
// auto-reply behavior, so they can be forwarded verbatim per the
// frame-translation table.
func forwardClientToBrowser(clientConn *websocket.Conn, browserConn net.Conn) {
	clientConn.SetPingHandler(func(data string) error {
		if err := wsutil.WriteClientMessage(browserConn, ws.OpPing, []byte(data)); err != nil {
			logger.Debug("relay: failed to forward ping to browser", zap.Error(err))
		}
		return nil
	})
	clientConn.SetPongHandler(func(data string) error {
		if err := wsutil.WriteClientMessage(browserConn, ws.OpPong, []byte(data)); err != nil {
			logger.Debug("relay: failed to forward pong to browser", zap.Error(err))
		}
		return nil
	})
	clientConn.SetCloseHandler(func(code int, reason string) error {
		body := ws.NewCloseFrameBody(ws.StatusCode(code), reason)
		if err := wsutil.WriteClientMessage(browserConn, ws.OpClose, body); err != nil {
			logger.Debug("relay: failed to forward close to browser", zap.Error(err))
		}
		return nil
	})

	for {
		messageType, payload, err := clientConn.ReadMessage()
		if err != nil {
			return
		}

		var op ws.OpCode
		switch messageType {
		case websocket.TextMessage:
			op = ws.OpText
		case websocket.BinaryMessage:
			op = ws.OpBinary
		default:
			logger.Warn("relay: dropping unsupported client frame", zap.Int("type", messageType))
			continue
		}

		if err := wsutil.WriteClientMessage(browserConn, op, payload); err != nil {
			return
		}
	}
}

// forwardBrowserToClient reads raw frames off the browser debugger
// connection, reassembling fragmented messages itself (gobwas's low-level
// API does not do this for us the way gorilla does), and re-encodes whole
// messages and control frames for the client connection.
func forwardBrowserToClient(browserConn net.Conn, clientConn *websocket.Conn) {
	var fragment []byte
	var fragmentOp ws.OpCode

	for {
		header, err := ws.ReadHeader(browserConn)
		if err != nil {
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(browserConn, payload); err != nil {
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		op := header.OpCode
		if op == ws.OpContinuation {
			fragment = append(fragment, payload...)
			if !header.Fin {
				continue
			}
			payload = fragment
			op = fragmentOp
			fragment = nil
		} else if !header.Fin && !op.IsControl() {
			fragment = append([]byte{}, payload...)
			fragmentOp = op
			continue
		}

		switch op {
		case ws.OpText:
			if err := clientConn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case ws.OpBinary:
			if err := clientConn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		case ws.OpPing:
			if err := clientConn.WriteControl(websocket.PingMessage, payload, time.Now().Add(writeControlDeadline)); err != nil {
				return
			}
		case ws.OpPong:
			if err := clientConn.WriteControl(websocket.PongMessage, payload, time.Now().Add(writeControlDeadline)); err != nil {
				return
			}
		case ws.OpClose:
			_ = clientConn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(writeControlDeadline))
			return
		default:
			logger.Warn("relay: dropping unsupported browser frame", zap.Uint8("opcode", uint8(op)))
		}
	}
}
