package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/xhad/sift/pkg/rag"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is one websocket frame. Type is one of status, stream,
// response, error.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type wsQuery struct {
	Query       string `json:"query"`
	DocumentIDs []int  `json:"document_ids,omitempty"`
}

// Streamer produces a token stream for an assembled context and query.
type Streamer interface {
	GenerateStream(ctx context.Context, contextText, query string) (<-chan string, <-chan error)
}

// SetStreamer enables token-by-token answers on the websocket endpoint.
// Without one, websocket queries fall back to the blocking path.
func (s *Server) SetStreamer(streamer Streamer) {
	s.streamer = streamer
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var query wsQuery
		if err := json.Unmarshal(raw, &query); err != nil || query.Query == "" {
			s.sendMessage(conn, "error", "invalid query frame")
			continue
		}

		s.handleWSQuery(r.Context(), conn, query)
	}
}

func (s *Server) handleWSQuery(ctx context.Context, conn *websocket.Conn, q wsQuery) {
	if s.streamer == nil {
		resp := s.service.Query(ctx, rag.QueryRequest{Query: q.Query, DocumentIDs: q.DocumentIDs})
		s.sendMessage(conn, "response", resp.Response)
		return
	}

	s.sendMessage(conn, "status", "retrieving")
	results, _, err := s.service.Retrieve(ctx, q.Query, 0, q.DocumentIDs)
	if err != nil {
		log.Printf("server: websocket retrieval failed: %v", err)
		s.sendMessage(conn, "response", rag.FallbackResponse)
		return
	}

	contextText, _ := rag.BuildContext(results)
	if len(results) == 0 {
		s.sendMessage(conn, "status", "no grounding found")
	}

	s.sendMessage(conn, "status", "generating")
	tokens, errs := s.streamer.GenerateStream(ctx, contextText, q.Query)
	for token := range tokens {
		s.sendMessage(conn, "stream", token)
	}
	if err := <-errs; err != nil {
		log.Printf("server: websocket generation failed: %v", err)
		s.sendMessage(conn, "response", rag.FallbackResponse)
		return
	}
	s.sendMessage(conn, "response", "")
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}
