package pionrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// signalMessage is the JSON signaling frame exchanged with the media
// server. Types: "auth", "offer", "answer", "candidate", "ice-complete",
// "bye", "error".
type signalMessage struct {
	Type          string  `json:"type"`
	Token         string  `json:"token,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type signalClient struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// dialSignaling connects to the signaling endpoint and authenticates with
// the join token, both as a bearer header and as the first frame.
func dialSignaling(ctx context.Context, url, token string) (*signalClient, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("signaling dial: %w", err)
	}
	sc := &signalClient{conn: conn}
	if err := sc.send(signalMessage{Type: "auth", Token: token}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("signaling auth: %w", err)
	}
	return sc, nil
}

func (s *signalClient) send(m signalMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(m)
}

// read blocks until the next JSON frame. Non-text frames are skipped.
func (s *signalClient) read() (signalMessage, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return signalMessage{}, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		return m, nil
	}
}

func (s *signalClient) close() {
	s.closeOnce.Do(func() {
		_ = s.send(signalMessage{Type: "bye"})
		_ = s.conn.Close()
	})
}
