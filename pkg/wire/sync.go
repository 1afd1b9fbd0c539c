// Package wire runs an automerge sync session over a websocket connection.
// Both the relay and the client use it; neither side is special.
package wire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Peer is one side of a sync session, e.g. *docstore.Peer.
type Peer interface {
	ReceiveMessage(msg []byte) error
	GenerateMessage() ([]byte, bool)
	Changed() <-chan struct{}
}

// FlushInterval bounds how long a change can wait before being sent when no
// change signal arrives.
var FlushInterval = time.Second

func readAndReceiveMessage(conn *websocket.Conn, peer Peer) error {
	mt, p, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	switch mt {
	case websocket.BinaryMessage:
		if err := peer.ReceiveMessage(p); err != nil {
			return fmt.Errorf("failed to receive message: %w", err)
		}
	default:
	}
	return nil
}

func generateAndWriteMessages(conn *websocket.Conn, peer Peer) error {
	for {
		msg, ok := peer.GenerateMessage()
		if !ok {
			return nil
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
}

// Sync exchanges messages until the connection fails or ctx is done. It
// returns nil on a normal close or cancellation.
func Sync(parent context.Context, conn *websocket.Conn, peer Peer) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var readErr, writeErr error
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			if err := readAndReceiveMessage(conn, peer); err != nil {
				readErr = err
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()

		if err := generateAndWriteMessages(conn, peer); err != nil {
			writeErr = err
			return
		}
		t := time.NewTicker(FlushInterval)
		defer t.Stop()
		for {
			select {
			case <-peer.Changed():
			case <-t.C:
			case <-ctx.Done():
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				)
				return
			}
			if err := generateAndWriteMessages(conn, peer); err != nil {
				writeErr = err
				return
			}
		}
	}()

	wg.Wait()
	if writeErr != nil {
		return writeErr
	}
	if readErr != nil && !isClosed(readErr) && parent.Err() == nil {
		return readErr
	}
	slog.Debug("sync session ended", "remote", conn.RemoteAddr())
	return nil
}

func isClosed(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}
