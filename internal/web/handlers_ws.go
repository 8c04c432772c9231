package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/session"
)

// pushFrame is the envelope for every message sent over /ws. Session events
// keep their own type; new log entries go out as type "log".
type pushFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// viewer is one connected dashboard socket.
type viewer struct {
	conn   *websocket.Conn
	frames chan []byte
}

// PushHub fans session events and log entries out to every connected
// dashboard socket. Frames are marshaled once and delivered per viewer; a
// viewer that cannot drain its channel is dropped rather than allowed to
// stall the others.
type PushHub struct {
	logger *slog.Logger

	attach chan *viewer
	detach chan *viewer
	out    chan []byte

	mu      sync.RWMutex
	viewers map[*viewer]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

// NewPushHub creates a hub. Run must be started for it to deliver anything.
func NewPushHub(logger *slog.Logger) *PushHub {
	return &PushHub{
		logger:  logger,
		attach:  make(chan *viewer),
		detach:  make(chan *viewer),
		out:     make(chan []byte, 256),
		viewers: make(map[*viewer]struct{}),
		done:    make(chan struct{}),
	}
}

// Run owns the viewer set. It exits on Stop, closing every remaining
// viewer's frame channel.
func (h *PushHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for v := range h.viewers {
				close(v.frames)
				delete(h.viewers, v)
			}
			h.mu.Unlock()
			return

		case v := <-h.attach:
			h.mu.Lock()
			h.viewers[v] = struct{}{}
			n := len(h.viewers)
			h.mu.Unlock()
			h.logger.Debug("viewer attached", "viewers", n)

		case v := <-h.detach:
			h.mu.Lock()
			if _, ok := h.viewers[v]; ok {
				delete(h.viewers, v)
				close(v.frames)
			}
			n := len(h.viewers)
			h.mu.Unlock()
			h.logger.Debug("viewer detached", "viewers", n)

		case frame := <-h.out:
			h.mu.Lock()
			for v := range h.viewers {
				select {
				case v.frames <- frame:
				default:
					// Stalled viewer: drop it.
					delete(h.viewers, v)
					close(v.frames)
					h.logger.Warn("dropping stalled viewer")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down. Idempotent.
func (h *PushHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// PushEvent delivers a session event to every viewer.
func (h *PushHub) PushEvent(event session.Event) {
	h.push(pushFrame{Type: event.Type, Data: event.Data})
}

// PushLog delivers a new log entry to every viewer.
func (h *PushHub) PushLog(entry eventlog.Entry) {
	h.push(pushFrame{Type: "log", Data: entry})
}

func (h *PushHub) push(frame pushFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("marshal push frame", "err", err)
		return
	}
	select {
	case h.out <- data:
	default:
		h.logger.Warn("push queue full, dropping frame")
	}
}

// Viewers reports the number of attached sockets.
func (h *PushHub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// Without explicit origins nhooyr falls back to a same-origin check.

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	v := &viewer{conn: conn, frames: make(chan []byte, 64)}
	select {
	case s.wsHub.attach <- v:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.writeFrames(v)
	s.readUntilGone(v)
}

// writeFrames drains the viewer's frame channel into the socket. The hub
// closing the channel ends the connection.
func (s *Server) writeFrames(v *viewer) {
	for frame := range v.frames {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := v.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			return
		}
	}
	v.conn.Close(websocket.StatusNormalClosure, "")
}

// readUntilGone blocks until the peer disconnects. Viewers only listen; the
// read loop exists to detect the close.
func (s *Server) readUntilGone(v *viewer) {
	defer func() {
		select {
		case s.wsHub.detach <- v:
		case <-s.wsHub.done:
			v.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := v.conn.Read(ctx); err != nil {
			return
		}
	}
}
