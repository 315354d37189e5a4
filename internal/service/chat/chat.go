// Package chat is the typed client for the host's conversation command
// family and its per-conversation event streams.
package chat

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/im-bridge/internal/dispatch"
	"github.com/webitel/im-bridge/internal/domain/bridge"
	"github.com/webitel/im-bridge/internal/subscription"
	"golang.org/x/sync/errgroup"
)

// Command catalog handled by the host.
const (
	CmdCreateConversation = "create_conversation"
	CmdSendMessage        = "send_message"
	CmdConversationInfo   = "conversation_info"
	CmdHistory            = "conversation_history"
)

// EventFamily is the topic family for conversation push events. The full
// topic is EventFamily + "_" + conversationID.
const EventFamily = "conversation_events"

// Chatter is the conversation surface exposed to the UI layer.
type Chatter interface {
	CreateConversation(ctx context.Context) (string, error)
	SendMessage(ctx context.Context, conversationID, content string) error
	History(ctx context.Context, conversationID string, limit int) ([]Message, error)
	Info(ctx context.Context, conversationID string) (*Conversation, error)
	Subscribe(ctx context.Context, conversationID string, h subscription.Handler) (*subscription.Subscription, error)
	Tail(ctx context.Context, conversationID string, limit int) (*Tail, error)
}

// Interface guard
var _ Chatter = (*Service)(nil)

// Message is one conversation entry as returned by the host.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"created_at"`
}

// Conversation is the host's conversation summary.
type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
}

// SendMessageRequest is the send_message argument payload.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
}

type historyRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit,omitempty"`
}

type infoRequest struct {
	ConversationID string `json:"conversation_id"`
}

// Tail couples a recent-history snapshot with the live event stream opened
// after it. Events emitted between the snapshot call and the registration
// completing are not replayed; that window is an accepted limitation of the
// live-tail contract.
type Tail struct {
	Info         *Conversation
	History      []Message
	Subscription *subscription.Subscription
}

type Service struct {
	dispatcher dispatch.Dispatcher
	registrar  subscription.Registrar
	logger     *slog.Logger

	// Hot conversation summaries; cache-aside, keyed by conversation id.
	cache *lru.Cache[string, Conversation]
}

func NewService(d dispatch.Dispatcher, r subscription.Registrar, logger *slog.Logger) *Service {
	cache, _ := lru.New[string, Conversation](1024)
	return &Service{
		dispatcher: d,
		registrar:  r,
		logger:     logger.With(slog.String("component", "chat")),
		cache:      cache,
	}
}

// CreateConversation asks the host for a new session and returns its opaque
// identifier, used from then on purely as a topic correlation key.
func (s *Service) CreateConversation(ctx context.Context) (string, error) {
	return dispatch.Call[string](ctx, s.dispatcher, CmdCreateConversation, nil)
}

// SendMessage submits content to the conversation. Replies arrive on the
// conversation's event stream, not as the call result.
func (s *Service) SendMessage(ctx context.Context, conversationID, content string) error {
	return dispatch.Exec(ctx, s.dispatcher, CmdSendMessage, SendMessageRequest{
		ConversationID: conversationID,
		Content:        content,
	})
}

// History fetches the most recent messages of the conversation.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	return dispatch.Call[[]Message](ctx, s.dispatcher, CmdHistory, historyRequest{
		ConversationID: conversationID,
		Limit:          limit,
	})
}

// Info returns the conversation summary, served from the LRU cache when hot.
func (s *Service) Info(ctx context.Context, conversationID string) (*Conversation, error) {
	if cached, ok := s.cache.Get(conversationID); ok {
		return &cached, nil
	}
	conv, err := dispatch.Call[Conversation](ctx, s.dispatcher, CmdConversationInfo, infoRequest{
		ConversationID: conversationID,
	})
	if err != nil {
		return nil, err
	}
	s.cache.Add(conversationID, conv)
	return &conv, nil
}

// Subscribe attaches h to the conversation's push event stream.
func (s *Service) Subscribe(ctx context.Context, conversationID string, h subscription.Handler) (*subscription.Subscription, error) {
	return s.registrar.Subscribe(ctx, bridge.Topic(EventFamily, conversationID), h)
}

// Tail fetches the summary and recent history in parallel, then opens the
// live stream. Snapshot first, subscribe second: the caller reconciles the
// overlap by message id, and the gap between the two calls is the documented
// race window of the live-tail contract.
func (s *Service) Tail(ctx context.Context, conversationID string, limit int) (*Tail, error) {
	t := &Tail{}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, err := s.Info(gCtx, conversationID)
		if err != nil {
			return err
		}
		t.Info = info
		return nil
	})
	g.Go(func() error {
		history, err := s.History(gCtx, conversationID, limit)
		if err != nil {
			return err
		}
		t.History = history
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sub, err := s.registrar.Stream(ctx, bridge.Topic(EventFamily, conversationID))
	if err != nil {
		return nil, err
	}
	t.Subscription = sub
	return t, nil
}
