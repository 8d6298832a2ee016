package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/rufuslabs/rufus/backend/internal/analysis/intent"
	"github.com/rufuslabs/rufus/backend/internal/model/catalog"
	"github.com/rufuslabs/rufus/backend/internal/model/conv"
	"github.com/rufuslabs/rufus/backend/internal/service/gateway"
	"github.com/rufuslabs/rufus/backend/internal/service/recommend"
	"github.com/rufuslabs/rufus/backend/internal/service/session"
)

// Gateway is the narrow capability contract the dialogue router consumes.
// Tests substitute a deterministic stub; production wires the eino-backed
// implementation from internal/service/gateway.
type Gateway interface {
	Converse(ctx context.Context, profile string, history []conv.Turn, userText string) (string, error)
	ConverseStream(ctx context.Context, profile string, history []conv.Turn, userText string, onDelta func(string)) (string, error)
	DescribeImage(ctx context.Context, data []byte, declaredType string) (string, error)
}

const (
	defaultProfile      = "profile: valued customer"
	greetingInstruction = "Please introduce yourself and ask how you can help me today."
	fallbackGreeting    = "Hi, I'm Rufus, your shopping assistant! I can chat with you, recommend products from our catalog, or find items similar to a photo you upload. How can I help today?"
	declineMessage      = "Rufus: I'm sorry, I can't help with that request. Is there something else I can do for you?"
	uploadedImageText   = "[uploaded an image]"
)

// Reply is the uniform response envelope every workflow path produces.
type Reply struct {
	Message  string            `json:"message"`
	Products []catalog.Product `json:"products,omitempty"`
	Intent   intent.Intent     `json:"intent"`
}

// Service is the dialogue router: it owns the per-turn orchestration of
// session state, intent classification, the capability gateway, and the
// recommendation matcher.
type Service struct {
	sessions *session.Store
	matcher  *recommend.Matcher
	gw       Gateway
}

// NewService wires the dialogue router. gw may be nil when no model is
// configured; chat then degrades to an unavailability error while
// recommendation workflows keep working.
func NewService(sessions *session.Store, matcher *recommend.Matcher, gw Gateway) *Service {
	return &Service{sessions: sessions, matcher: matcher, gw: gw}
}

// StartSession provisions a session and produces Rufus's opening greeting.
// The greeting is returned to the caller but not recorded as a turn, so
// history stays a strict sequence of user/agent exchanges.
func (s *Service) StartSession(ctx context.Context, userInfo map[string]string) (conv.Session, string, error) {
	profile := formatProfile(userInfo)

	created, err := s.sessions.Create(ctx, profile)
	if err != nil {
		return conv.Session{}, "", err
	}

	greeting := fallbackGreeting
	if s.gw != nil {
		if text, err := s.gw.Converse(ctx, profile, nil, greetingInstruction); err != nil {
			log.Printf("[agent] greeting generation failed for session=%s, using fallback: %v", created.ID, err)
		} else if text != "" {
			greeting = text
		}
	}

	log.Printf("[agent] session %s started for %q", created.ID, profile)
	return created, greeting, nil
}

// HandleText processes one text turn: classify, dispatch, append exactly
// one user turn and one agent turn under the session lock.
func (s *Service) HandleText(ctx context.Context, sessionID, text string) (Reply, error) {
	return s.handleText(ctx, sessionID, text, nil)
}

// HandleTextStream behaves like HandleText but forwards chat deltas to
// onDelta as they arrive. Recommendation turns are produced whole.
func (s *Service) HandleTextStream(ctx context.Context, sessionID, text string, onDelta func(string)) (Reply, error) {
	return s.handleText(ctx, sessionID, text, onDelta)
}

func (s *Service) handleText(ctx context.Context, sessionID, text string, onDelta func(string)) (Reply, error) {
	classified := intent.Classify(text)

	var reply Reply
	err := s.sessions.Update(ctx, sessionID, func(sess *conv.Session) error {
		switch classified {
		case intent.Recommend:
			result := s.matcher.Match(text)
			reply = Reply{Message: result.Message, Products: result.Products, Intent: classified}
		default:
			message, err := s.converse(ctx, sess, text, onDelta)
			if err != nil {
				return err
			}
			reply = Reply{Message: message, Intent: classified}
		}

		now := time.Now().UTC()
		sess.AppendExchange(
			conv.Turn{Text: text, CreatedAt: now},
			conv.Turn{Text: reply.Message, Products: reply.Products, CreatedAt: now},
		)
		return nil
	})
	if err != nil {
		return Reply{}, err
	}

	return reply, nil
}

// HandleImage runs the image recommendation workflow for a session: the
// upload is described by the vision capability, then matched against the
// catalog with the same lexical algorithm as text recommendation.
func (s *Service) HandleImage(ctx context.Context, sessionID string, data []byte, declaredType string) (Reply, error) {
	var reply Reply
	err := s.sessions.Update(ctx, sessionID, func(sess *conv.Session) error {
		result, err := s.describeAndMatch(ctx, data, declaredType)
		if err != nil {
			return err
		}
		reply = Reply{Message: result.Message, Products: result.Products, Intent: intent.Recommend}

		now := time.Now().UTC()
		sess.AppendExchange(
			conv.Turn{Text: uploadedImageText, CreatedAt: now},
			conv.Turn{Text: reply.Message, Products: reply.Products, CreatedAt: now},
		)
		return nil
	})
	if err != nil {
		return Reply{}, err
	}

	return reply, nil
}

// RecommendTextInSession runs the text-matching workflow as a session turn.
// Classification is skipped: the calling endpoint already expresses the
// recommendation intent.
func (s *Service) RecommendTextInSession(ctx context.Context, sessionID, query string) (Reply, error) {
	var reply Reply
	err := s.sessions.Update(ctx, sessionID, func(sess *conv.Session) error {
		result := s.matcher.Match(query)
		reply = Reply{Message: result.Message, Products: result.Products, Intent: intent.Recommend}

		now := time.Now().UTC()
		sess.AppendExchange(
			conv.Turn{Text: query, CreatedAt: now},
			conv.Turn{Text: reply.Message, Products: reply.Products, CreatedAt: now},
		)
		return nil
	})
	if err != nil {
		return Reply{}, err
	}

	return reply, nil
}

// RecommendText is the sessionless one-shot text recommendation.
func (s *Service) RecommendText(_ context.Context, query string) recommend.Result {
	return s.matcher.Match(query)
}

// RecommendImage is the sessionless one-shot image recommendation.
func (s *Service) RecommendImage(ctx context.Context, data []byte, declaredType string) (recommend.Result, error) {
	return s.describeAndMatch(ctx, data, declaredType)
}

// History returns the session transcript in chronological order.
func (s *Service) History(ctx context.Context, sessionID string) ([]conv.Turn, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Turns, nil
}

func (s *Service) converse(ctx context.Context, sess *conv.Session, text string, onDelta func(string)) (string, error) {
	if s.gw == nil {
		return "", fmt.Errorf("%w: no model configured", gateway.ErrModelUnavailable)
	}

	var message string
	var err error
	if onDelta != nil {
		message, err = s.gw.ConverseStream(ctx, sess.Profile, sess.Turns, text, onDelta)
	} else {
		message, err = s.gw.Converse(ctx, sess.Profile, sess.Turns, text)
	}

	if errors.Is(err, gateway.ErrModelContentRejected) {
		// Non-retryable by contract: decline gracefully and keep the
		// exchange in history.
		log.Printf("[agent] content rejected for session=%s, declining", sess.ID)
		return declineMessage, nil
	}
	if err != nil {
		return "", err
	}
	return message, nil
}

func (s *Service) describeAndMatch(ctx context.Context, data []byte, declaredType string) (recommend.Result, error) {
	if s.gw == nil {
		return recommend.Result{}, fmt.Errorf("%w: no model configured", gateway.ErrModelUnavailable)
	}

	description, err := s.gw.DescribeImage(ctx, data, declaredType)
	if err != nil {
		return recommend.Result{}, err
	}

	if description == "" || strings.Contains(strings.ToUpper(description), gateway.CannotIdentify) {
		return recommend.Result{
			Message:  "Rufus: I'm sorry, I couldn't clearly identify a product in the image you sent.",
			Products: []catalog.Product{},
		}, nil
	}

	result := s.matcher.Match(description)
	if len(result.Products) == 0 {
		return result, nil
	}

	if result.Fallback {
		result.Message = fmt.Sprintf("Rufus: Based on the image (which I see as about %q), I couldn't find an exact match, but here are some suggestions:", description)
	} else {
		result.Message = fmt.Sprintf("Rufus: Based on the image (which I see as about %q), here are some recommendations:", description)
	}
	return result, nil
}

// formatProfile renders the start-session metadata as the profile detail
// string interpolated into the persona prompt. Keys are sorted so the
// prompt is stable for identical input.
func formatProfile(userInfo map[string]string) string {
	if len(userInfo) == 0 {
		return defaultProfile
	}

	keys := make([]string, 0, len(userInfo))
	for k := range userInfo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, userInfo[k]))
	}
	return strings.Join(parts, ", ")
}
