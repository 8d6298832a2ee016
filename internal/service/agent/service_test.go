package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rufuslabs/rufus/backend/internal/analysis/intent"
	"github.com/rufuslabs/rufus/backend/internal/model/catalog"
	"github.com/rufuslabs/rufus/backend/internal/model/conv"
	"github.com/rufuslabs/rufus/backend/internal/service/gateway"
	"github.com/rufuslabs/rufus/backend/internal/service/recommend"
	"github.com/rufuslabs/rufus/backend/internal/service/session"
)

type stubGateway struct {
	converseReply string
	converseErr   error
	description   string
	describeErr   error
}

func (s *stubGateway) Converse(_ context.Context, _ string, _ []conv.Turn, _ string) (string, error) {
	return s.converseReply, s.converseErr
}

func (s *stubGateway) ConverseStream(_ context.Context, _ string, _ []conv.Turn, _ string, onDelta func(string)) (string, error) {
	if s.converseErr != nil {
		return "", s.converseErr
	}
	if onDelta != nil {
		for _, chunk := range strings.SplitAfter(s.converseReply, " ") {
			onDelta(chunk)
		}
	}
	return s.converseReply, nil
}

func (s *stubGateway) DescribeImage(_ context.Context, _ []byte, _ string) (string, error) {
	return s.description, s.describeErr
}

func testCatalog() *catalog.Store {
	return catalog.NewStore([]catalog.Product{
		{ID: "p1", Name: "Mint Toothpaste", Description: "fluoride toothpaste", Price: 3.5, Category: "personal care", Tags: []string{"toothpaste"}},
		{ID: "p2", Name: "Red T-Shirt", Description: "red cotton t-shirt for sports", Price: 12, Category: "apparel", Tags: []string{"t-shirt", "red", "cotton"}},
		{ID: "p3", Name: "Wireless Headphones", Description: "black wireless headphones", Price: 59, Category: "electronics", Tags: []string{"headphones", "wireless"}},
	})
}

func newTestService(gw Gateway) (*Service, *session.Store) {
	sessions := session.NewStore(0)
	matcher := recommend.NewMatcher(testCatalog(), 3)
	return NewService(sessions, matcher, gw), sessions
}

func startSession(t *testing.T, svc *Service) conv.Session {
	t.Helper()
	created, _, err := svc.StartSession(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	return created
}

func TestStartSessionUsesGatewayGreeting(t *testing.T) {
	svc, _ := newTestService(&stubGateway{converseReply: "Hello, I'm Rufus!"})

	_, greeting, err := svc.StartSession(context.Background(), map[string]string{"name": "Ada"})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	if greeting != "Hello, I'm Rufus!" {
		t.Fatalf("unexpected greeting: %q", greeting)
	}
}

func TestStartSessionFallsBackWithoutGateway(t *testing.T) {
	svc, sessions := newTestService(nil)

	created, greeting, err := svc.StartSession(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	if greeting != fallbackGreeting {
		t.Fatalf("expected canned greeting, got %q", greeting)
	}
	if sessions.Len() != 1 {
		t.Fatalf("session not registered")
	}

	// The greeting must not pollute the turn history.
	got, err := svc.History(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history after start, got %d turns", len(got))
	}
}

func TestStartSessionGreetingFailureIsNonFatal(t *testing.T) {
	svc, _ := newTestService(&stubGateway{converseErr: gateway.ErrModelUnavailable})

	_, greeting, err := svc.StartSession(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	if greeting != fallbackGreeting {
		t.Fatalf("expected fallback greeting, got %q", greeting)
	}
}

func TestHandleTextChatPath(t *testing.T) {
	svc, _ := newTestService(&stubGateway{converseReply: "Nice to meet you!"})
	created := startSession(t, svc)

	reply, err := svc.HandleText(context.Background(), created.ID, "hi, what can you do?")
	if err != nil {
		t.Fatalf("HandleText err: %v", err)
	}
	if reply.Intent != intent.Chat {
		t.Fatalf("expected chat intent, got %s", reply.Intent)
	}
	if reply.Message != "Nice to meet you!" {
		t.Fatalf("unexpected reply: %q", reply.Message)
	}
	if len(reply.Products) != 0 {
		t.Fatalf("chat reply must not attach products")
	}
}

func TestHandleTextRecommendPath(t *testing.T) {
	svc, _ := newTestService(&stubGateway{})
	created := startSession(t, svc)

	reply, err := svc.HandleText(context.Background(), created.ID, "Recommend some toothpaste")
	if err != nil {
		t.Fatalf("HandleText err: %v", err)
	}
	if reply.Intent != intent.Recommend {
		t.Fatalf("expected recommend intent, got %s", reply.Intent)
	}
	if len(reply.Products) == 0 || reply.Products[0].ID != "p1" {
		t.Fatalf("expected p1 recommended, got %+v", reply.Products)
	}

	turns, _ := svc.History(context.Background(), created.ID)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if len(turns[1].Products) == 0 {
		t.Fatal("agent turn should carry attached products")
	}
	if len(turns[0].Products) != 0 {
		t.Fatal("user turn must not carry products")
	}
}

func TestHandleTextAlternationOverManyRounds(t *testing.T) {
	svc, _ := newTestService(&stubGateway{converseReply: "ok"})
	created := startSession(t, svc)

	const rounds = 6
	for i := 0; i < rounds; i++ {
		text := fmt.Sprintf("hello %d", i)
		if i%2 == 0 {
			text = fmt.Sprintf("show me item %d", i)
		}
		if _, err := svc.HandleText(context.Background(), created.ID, text); err != nil {
			t.Fatalf("HandleText %d err: %v", i, err)
		}
	}

	turns, _ := svc.History(context.Background(), created.ID)
	if len(turns) != rounds*2 {
		t.Fatalf("expected %d turns, got %d", rounds*2, len(turns))
	}
	for i, turn := range turns {
		want := conv.RoleUser
		if i%2 == 1 {
			want = conv.RoleAgent
		}
		if turn.Role != want {
			t.Fatalf("turn %d role = %s, want %s", i, turn.Role, want)
		}
	}
}

func TestHandleTextUnknownSession(t *testing.T) {
	svc, _ := newTestService(&stubGateway{})

	_, err := svc.HandleText(context.Background(), "missing", "hello")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestHandleTextContentRejectedDeclines(t *testing.T) {
	svc, _ := newTestService(&stubGateway{converseErr: gateway.ErrModelContentRejected})
	created := startSession(t, svc)

	reply, err := svc.HandleText(context.Background(), created.ID, "hello")
	if err != nil {
		t.Fatalf("expected graceful decline, got error %v", err)
	}
	if reply.Message != declineMessage {
		t.Fatalf("unexpected decline message: %q", reply.Message)
	}

	turns, _ := svc.History(context.Background(), created.ID)
	if len(turns) != 2 {
		t.Fatalf("decline should still be recorded, got %d turns", len(turns))
	}
}

func TestHandleTextModelUnavailableAppendsNothing(t *testing.T) {
	svc, _ := newTestService(&stubGateway{converseErr: gateway.ErrModelUnavailable})
	created := startSession(t, svc)

	_, err := svc.HandleText(context.Background(), created.ID, "hello")
	if !errors.Is(err, gateway.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}

	turns, _ := svc.History(context.Background(), created.ID)
	if len(turns) != 0 {
		t.Fatalf("failed request must not append turns, got %d", len(turns))
	}
}

func TestHandleTextChatWithoutGateway(t *testing.T) {
	svc, _ := newTestService(nil)
	created := startSession(t, svc)

	if _, err := svc.HandleText(context.Background(), created.ID, "hello"); !errors.Is(err, gateway.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}

	// Recommendation still works without a model.
	reply, err := svc.HandleText(context.Background(), created.ID, "recommend headphones")
	if err != nil {
		t.Fatalf("HandleText err: %v", err)
	}
	if len(reply.Products) == 0 || reply.Products[0].ID != "p3" {
		t.Fatalf("expected p3, got %+v", reply.Products)
	}
}

func TestHandleTextStreamEmitsDeltas(t *testing.T) {
	svc, _ := newTestService(&stubGateway{converseReply: "streamed reply text"})
	created := startSession(t, svc)

	var deltas []string
	reply, err := svc.HandleTextStream(context.Background(), created.ID, "hello", func(chunk string) {
		deltas = append(deltas, chunk)
	})
	if err != nil {
		t.Fatalf("HandleTextStream err: %v", err)
	}
	if reply.Message != "streamed reply text" {
		t.Fatalf("unexpected message: %q", reply.Message)
	}
	if len(deltas) == 0 {
		t.Fatal("expected streamed deltas")
	}
	if strings.Join(deltas, "") != "streamed reply text" {
		t.Fatalf("deltas do not reassemble reply: %q", strings.Join(deltas, ""))
	}
}

func TestHandleImageMatchesDescribedProduct(t *testing.T) {
	svc, _ := newTestService(&stubGateway{description: "red cotton t-shirt for sports"})
	created := startSession(t, svc)

	reply, err := svc.HandleImage(context.Background(), created.ID, []byte("fake-image"), "image/jpeg")
	if err != nil {
		t.Fatalf("HandleImage err: %v", err)
	}
	if len(reply.Products) == 0 || reply.Products[0].ID != "p2" {
		t.Fatalf("expected p2 within results, got %+v", reply.Products)
	}
	if !strings.Contains(reply.Message, "red cotton t-shirt for sports") {
		t.Fatalf("message should echo the description, got %q", reply.Message)
	}

	turns, _ := svc.History(context.Background(), created.ID)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Text != uploadedImageText {
		t.Fatalf("user turn should record the upload event, got %q", turns[0].Text)
	}
}

func TestHandleImageCannotIdentify(t *testing.T) {
	svc, _ := newTestService(&stubGateway{description: "CANNOT IDENTIFY"})
	created := startSession(t, svc)

	reply, err := svc.HandleImage(context.Background(), created.ID, []byte("fake-image"), "image/png")
	if err != nil {
		t.Fatalf("HandleImage err: %v", err)
	}
	if len(reply.Products) != 0 {
		t.Fatalf("expected no products, got %+v", reply.Products)
	}
	if !strings.Contains(reply.Message, "couldn't clearly identify") {
		t.Fatalf("unexpected message: %q", reply.Message)
	}
}

func TestHandleImageInvalidImagePropagates(t *testing.T) {
	svc, _ := newTestService(&stubGateway{describeErr: gateway.ErrInvalidImage})
	created := startSession(t, svc)

	_, err := svc.HandleImage(context.Background(), created.ID, nil, "image/png")
	if !errors.Is(err, gateway.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}

	turns, _ := svc.History(context.Background(), created.ID)
	if len(turns) != 0 {
		t.Fatalf("rejected upload must not append turns, got %d", len(turns))
	}
}

func TestRecommendImageFallbackMessage(t *testing.T) {
	svc, _ := newTestService(&stubGateway{description: "vintage gramophone"})

	result, err := svc.RecommendImage(context.Background(), []byte("fake-image"), "image/jpeg")
	if err != nil {
		t.Fatalf("RecommendImage err: %v", err)
	}
	if len(result.Products) == 0 {
		t.Fatal("fallback should still suggest products")
	}
	if !strings.Contains(result.Message, "couldn't find an exact match") {
		t.Fatalf("expected fallback phrasing, got %q", result.Message)
	}
}

func TestFormatProfile(t *testing.T) {
	if got := formatProfile(nil); got != defaultProfile {
		t.Fatalf("expected default profile, got %q", got)
	}

	got := formatProfile(map[string]string{"b": "2", "a": "1"})
	if got != "a: 1, b: 2" {
		t.Fatalf("expected sorted rendering, got %q", got)
	}
}
