package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// event is one entry on the live ops feed.
type event struct {
	Kind       string    `json:"kind"`
	At         time.Time `json:"at"`
	Profile    string    `json:"profile,omitempty"`
	CommonName string    `json:"common_name,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feed fans events out to every connected operator websocket. Delivery is
// best effort: a subscriber that cannot keep up is dropped, never waited on.
type feed struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
	log  *slog.Logger
}

type subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newFeed(logger *slog.Logger) *feed {
	return &feed{subs: map[*subscriber]struct{}{}, log: logger}
}

func (f *feed) add(sub *subscriber) {
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
}

func (f *feed) remove(sub *subscriber) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

const feedWriteTimeout = 5 * time.Second

func (f *feed) publish(ev event) {
	f.mu.Lock()
	subs := make([]*subscriber, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.writeMu.Lock()
		_ = sub.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		err := sub.conn.WriteJSON(ev)
		sub.writeMu.Unlock()
		if err != nil {
			f.log.Debug("dropping slow event subscriber", "err", err)
			f.remove(sub)
			_ = sub.conn.Close()
		}
	}
}

func (f *feed) closeAll() {
	f.mu.Lock()
	subs := make([]*subscriber, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.subs = map[*subscriber]struct{}{}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.writeMu.Lock()
		_ = sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		sub.writeMu.Unlock()
		_ = sub.conn.Close()
	}
}

// handleEventFeed upgrades an operator connection and streams events until
// the peer goes away. Inbound frames are read only to detect the close.
func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("event feed upgrade failed", "err", err)
		return
	}
	sub := &subscriber{conn: conn}
	s.feed.add(sub)
	s.log.Debug("event feed subscriber connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.feed.remove(sub)
			_ = conn.Close()
			s.log.Debug("event feed subscriber gone", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
