package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// DefaultChannelID is used when a message arrives without a ChannelID.
const DefaultChannelID = "default"

// WSMessage is the JSON message protocol for the WebSocket gateway.
// Example: {"type": "chat", "content": "create a task for X", "channelId": "general"}
type WSMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	ChannelID string `json:"channelId,omitempty"`
	Kind      string `json:"kind,omitempty"` // failure kind on "error" replies
}

// jsonMarshal is used when encoding WSMessage; tests may replace it to force Marshal errors.
var (
	jsonMarshalMu sync.RWMutex
	jsonMarshal   = json.Marshal
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS upgrades to WebSocket and answers each "chat" message through the
// agent, bracketed by typing_start and typing_stop. Other types get an error
// reply. The channel id is echoed back so clients can multiplex.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in WSMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: "error", Content: "invalid JSON", Kind: "bad_request"})
			continue
		}
		channelID := in.ChannelID
		if channelID == "" {
			channelID = DefaultChannelID
		}
		if in.Type != "chat" {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: "error", Content: "unsupported message type " + in.Type, ChannelID: channelID, Kind: "bad_request"})
			continue
		}
		if strings.TrimSpace(in.Content) == "" {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: "error", Content: "prompt must not be empty", ChannelID: channelID, Kind: "bad_request"})
			continue
		}

		writeWSMessage(conn, &writeMu, &WSMessage{Type: "typing_start", ChannelID: channelID})
		answer, err := s.agent.Handle(r.Context(), in.Content)
		if err != nil {
			_, body := errorStatus(err)
			writeWSMessage(conn, &writeMu, &WSMessage{Type: "error", Content: body.Error, ChannelID: channelID, Kind: body.Kind})
		} else {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: "chat", Content: answer, ChannelID: channelID})
		}
		writeWSMessage(conn, &writeMu, &WSMessage{Type: "typing_stop", ChannelID: channelID})
	}
}

func writeWSMessage(conn *websocket.Conn, mu *sync.Mutex, msg *WSMessage) {
	jsonMarshalMu.RLock()
	marshal := jsonMarshal
	jsonMarshalMu.RUnlock()
	data, err := marshal(msg)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
