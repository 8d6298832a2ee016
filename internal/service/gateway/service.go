package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/rufuslabs/rufus/backend/internal/model/conv"
)

// rufusPersonaPrompt instills the shopping-assistant persona. The user
// profile details collected at session start are interpolated per call.
const rufusPersonaPrompt = `You are CommerceAgent, a friendly and helpful shopping assistant for an e-commerce website.
Your name is Rufus.
You are currently assisting a user with the following profile: %s.

Your primary functions are:
1. General Conversation: Engage in friendly chat and answer general inquiries based on the product descriptions.
2. Text-Based Product Recommendations: Help users find products from the product database based on their textual descriptions.
3. Image-Based Product Search: Help users find products from the product database similar to an image they provide.

When a user asks what you can do, clearly state these three capabilities.
Always respond conversationally.
Maintain context from previous messages.`

// describeImagePrompt asks the vision model for a short description usable
// as a search query.
const describeImagePrompt = `Describe the main product visible in this image.
Focus on its category, type, color, and key features suitable for an e-commerce search query.
For example: 'red cotton t-shirt for sports' or 'black wireless headphones'.
Provide only the description. Do not add any preamble.
If you cannot identify a product, respond with 'CANNOT IDENTIFY'.`

// CannotIdentify is the vision model's sentinel reply for images with no
// recognizable product.
const CannotIdentify = "CANNOT IDENTIFY"

const historyLimit = 10

// Options bound each external call and the local image validation.
type Options struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryBaseWait time.Duration
	MaxImageBytes int
}

// Service is the capability gateway: all interaction with the external
// language/vision model happens behind Converse and DescribeImage, so no
// request shape, model name, or provider error ever reaches callers.
type Service struct {
	chatModel     model.ChatModel
	chain         compose.Runnable[map[string]any, *schema.Message]
	timeout       time.Duration
	maxRetries    int
	retryBaseWait time.Duration
	maxImageBytes int
}

// New wires the conversational chain around the supplied chat model.
func New(ctx context.Context, chatModel model.ChatModel, opts Options) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseWait <= 0 {
		opts.RetryBaseWait = 300 * time.Millisecond
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 5 << 20
	}

	return &Service{
		chatModel:     chatModel,
		chain:         runnable,
		timeout:       opts.Timeout,
		maxRetries:    opts.MaxRetries,
		retryBaseWait: opts.RetryBaseWait,
		maxImageBytes: opts.MaxImageBytes,
	}, nil
}

// Converse returns a single reply for the new user message given the full
// ordered turn history. The gateway holds no conversational state between
// calls; context lives entirely in the supplied history.
func (s *Service) Converse(ctx context.Context, profile string, history []conv.Turn, userText string) (string, error) {
	input := s.buildChainInput(profile, history, userText)

	var reply string
	err := s.withRetry(ctx, "converse", func(callCtx context.Context) error {
		response, err := s.chain.Invoke(callCtx, input)
		if err != nil {
			return err
		}
		reply = response.Content
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("[gateway] converse reply length=%d", len(reply))
	return reply, nil
}

// ConverseStream behaves like Converse but forwards partial content to
// onDelta as it arrives. Streams are not retried: once bytes have been
// handed to the caller the exchange cannot be replayed.
func (s *Service) ConverseStream(ctx context.Context, profile string, history []conv.Turn, userText string, onDelta func(string)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input := s.buildChainInput(profile, history, userText)

	stream, err := s.chain.Stream(callCtx, input)
	if err != nil {
		return "", classifyModelError(err)
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", classifyModelError(recvErr)
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" && onDelta != nil {
			onDelta(chunk.Content)
		}
	}

	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", classifyModelError(err)
	}
	return response.Content, nil
}

// DescribeImage turns raw image bytes into a short textual description
// suitable as a catalog search query. Validation is local and fast-failing;
// only accepted images reach the external model.
func (s *Service) DescribeImage(ctx context.Context, data []byte, declaredType string) (string, error) {
	mimeType, err := s.validateImage(data, declaredType)
	if err != nil {
		return "", err
	}

	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	messages := []*schema.Message{
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: describeImagePrompt},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:      dataURL,
						MIMEType: mimeType,
					},
				},
			},
		},
	}

	var description string
	err = s.withRetry(ctx, "describe-image", func(callCtx context.Context) error {
		response, err := s.chatModel.Generate(callCtx, messages)
		if err != nil {
			return err
		}
		description = strings.TrimSpace(response.Content)
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("[gateway] image described as %q", description)
	return description, nil
}

// withRetry bounds every external call with the configured timeout and
// retries transient failures with exponential backoff. Content rejections
// are surfaced immediately.
func (s *Service) withRetry(ctx context.Context, op string, call func(context.Context) error) error {
	wait := s.retryBaseWait

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := call(callCtx)
		cancel()

		if err == nil {
			return nil
		}

		lastErr = classifyModelError(err)
		if !retryable(lastErr) || attempt == s.maxRetries {
			break
		}

		log.Printf("[gateway] %s attempt %d failed, retrying in %v: %v", op, attempt+1, wait, lastErr)
		select {
		case <-ctx.Done():
			return classifyModelError(ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}

	return lastErr
}

func (s *Service) buildChainInput(profile string, history []conv.Turn, userText string) map[string]any {
	return map[string]any{
		"system":  fmt.Sprintf(rufusPersonaPrompt, profile),
		"history": buildHistoryMessages(history),
		"query":   userText,
	}
}

// buildHistoryMessages converts the most recent turns into model messages.
func buildHistoryMessages(turns []conv.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > historyLimit {
		startIdx = len(turns) - historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Role {
		case conv.RoleUser:
			history = append(history, schema.UserMessage(turn.Text))
		case conv.RoleAgent:
			history = append(history, schema.AssistantMessage(turn.Text, nil))
		}
	}
	return history
}
