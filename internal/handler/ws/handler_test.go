package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rufuslabs/rufus/backend/internal/model/catalog"
	"github.com/rufuslabs/rufus/backend/internal/model/conv"
	agentService "github.com/rufuslabs/rufus/backend/internal/service/agent"
	"github.com/rufuslabs/rufus/backend/internal/service/recommend"
	"github.com/rufuslabs/rufus/backend/internal/service/session"
)

type stubGateway struct {
	reply string
}

func (s *stubGateway) Converse(context.Context, string, []conv.Turn, string) (string, error) {
	return s.reply, nil
}

func (s *stubGateway) ConverseStream(_ context.Context, _ string, _ []conv.Turn, _ string, onDelta func(string)) (string, error) {
	if onDelta != nil {
		onDelta(s.reply)
	}
	return s.reply, nil
}

func (s *stubGateway) DescribeImage(context.Context, []byte, string) (string, error) {
	return "", nil
}

func dialTestServer(t *testing.T) (*agentService.Service, *websocket.Conn, func()) {
	t.Helper()

	store := catalog.NewStore([]catalog.Product{
		{ID: "p1", Name: "Mint Toothpaste", Description: "fluoride toothpaste", Price: 3.5, Tags: []string{"toothpaste"}},
	})
	svc := agentService.NewService(session.NewStore(0), recommend.NewMatcher(store, 3), &stubGateway{reply: "hello from rufus"})

	created, _, err := svc.StartSession(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	r := chi.NewRouter()
	New(svc).RegisterRoutes(r)
	server := httptest.NewServer(r)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/agent/ws/" + created.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		server.Close()
		t.Fatalf("dial err: %v", err)
	}

	return svc, conn, func() {
		conn.Close()
		server.Close()
	}
}

func TestWebSocketChatTurn(t *testing.T) {
	_, conn, cleanup := dialTestServer(t)
	defer cleanup()

	if err := conn.WriteJSON(inboundMessage{Message: "hi rufus"}); err != nil {
		t.Fatalf("write err: %v", err)
	}

	var reply outboundMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read err: %v", err)
	}
	if reply.Event != "reply" || reply.Message != "hello from rufus" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestWebSocketRecommendationTurn(t *testing.T) {
	_, conn, cleanup := dialTestServer(t)
	defer cleanup()

	if err := conn.WriteJSON(inboundMessage{Message: "recommend toothpaste"}); err != nil {
		t.Fatalf("write err: %v", err)
	}

	var reply outboundMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read err: %v", err)
	}
	if len(reply.Products) == 0 || reply.Products[0].ID != "p1" {
		t.Fatalf("expected p1 recommendation, got %+v", reply)
	}
}

func TestWebSocketEmptyMessage(t *testing.T) {
	_, conn, cleanup := dialTestServer(t)
	defer cleanup()

	if err := conn.WriteJSON(inboundMessage{}); err != nil {
		t.Fatalf("write err: %v", err)
	}

	var reply outboundMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read err: %v", err)
	}
	if reply.Event != "error" {
		t.Fatalf("expected error event, got %+v", reply)
	}
}
