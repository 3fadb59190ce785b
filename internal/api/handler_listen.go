package api

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/valdo404/clickplanet-go/internal/hub"
)

const (
	wsWriteTimeout = 10 * time.Second

	// How long we give the peer to acknowledge a close frame before
	// tearing the connection down.
	wsCloseGrace = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The update feed is public and read-only; any origin may listen.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleListen returns a handler for GET /ws/listen. Each connection becomes
// a hub session; every update the session receives goes out as one binary
// frame. A session the hub drops for backpressure is closed with 1011.
func HandleListen(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			log.Printf("[api] ws upgrade failed from %s: %v", r.RemoteAddr, err)
			return
		}

		session := h.Register(uuid.NewString())
		defer h.Unregister(session)
		defer conn.Close()

		// Drain the read side: listeners send nothing meaningful, but the
		// read loop is what surfaces close frames and dead peers.
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-readerDone:
				return
			case frame, ok := <-session.Out():
				if !ok {
					closeCode := websocket.CloseNormalClosure
					if session.Dropped() {
						closeCode = websocket.CloseInternalServerErr
					}
					msg := websocket.FormatCloseMessage(closeCode, "")
					deadline := time.Now().Add(wsCloseGrace)
					_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					return
				}
			}
		}
	}
}
