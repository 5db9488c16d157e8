package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
)

// fakeRelay is a minimal in-process NIP-01 relay server: it accepts
// EVENT frames (always OK=true), stores them, and answers REQ with every
// stored event matching the filter followed by EOSE. It exists so engine
// scenario tests exercise the real relayclient/go-nostr wire path instead
// of a hand-rolled Pool fake, grounded on relayclient/conn.go's use of
// nostr.Relay as the wire client this server is the counterpart to.
type fakeRelay struct {
	mu     sync.Mutex
	events []nostr.Event
	srv    *httptest.Server
}

func newFakeRelay() *fakeRelay {
	r := &fakeRelay{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		r.serve(conn)
	}))
	return r
}

func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *fakeRelay) close() { r.srv.Close() }

func (r *fakeRelay) serve(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
			continue
		}
		var label string
		_ = json.Unmarshal(frame[0], &label)

		switch label {
		case "EVENT":
			var ev nostr.Event
			if err := json.Unmarshal(frame[1], &ev); err != nil {
				continue
			}
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			resp, _ := json.Marshal([]interface{}{"OK", ev.ID, true, ""})
			conn.WriteMessage(websocket.TextMessage, resp)
		case "REQ":
			var subID string
			_ = json.Unmarshal(frame[1], &subID)
			var filter nostr.Filter
			if len(frame) > 2 {
				_ = json.Unmarshal(frame[2], &filter)
			}
			r.mu.Lock()
			matches := make([]nostr.Event, 0, len(r.events))
			for _, ev := range r.events {
				if filter.Matches(&ev) {
					matches = append(matches, ev)
				}
			}
			r.mu.Unlock()
			for _, ev := range matches {
				resp, _ := json.Marshal([]interface{}{"EVENT", subID, ev})
				conn.WriteMessage(websocket.TextMessage, resp)
			}
			eose, _ := json.Marshal([]interface{}{"EOSE", subID})
			conn.WriteMessage(websocket.TextMessage, eose)
		case "CLOSE":
			// no subscription bookkeeping to release in this fake.
		}
	}
}
