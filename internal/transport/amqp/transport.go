// Package amqp implements the host transport for broker-fronted
// deployments: the privileged process consumes command requests from a
// RabbitMQ exchange and pushes replies and topic events back through it.
// Requests use the RPC pattern (correlation id + per-client reply queue);
// topic subscriptions bind a queue per topic on the events exchange.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/webitel/im-bridge/internal/transport"
)

const (
	RequestsExchange = "im_bridge.requests"
	EventsExchange   = "im_bridge.events"
	repliesPrefix    = "im_bridge.replies."

	correlationIDKey = "correlation_id"
	replyToKey       = "reply_to"
	commandKey       = "command"
)

// Interface guard
var _ transport.Transport = (*Transport)(nil)

// Transport is an AMQP host link. One publisher carries requests, one
// subscriber tails the client's private reply queue, and each topic
// subscription gets its own bound queue.
type Transport struct {
	uri      string
	clientID string
	logger   *slog.Logger
	wmLogger watermill.LoggerAdapter

	publisher message.Publisher

	pendingMu sync.Mutex
	pending   map[string]chan *transport.Frame

	closed    chan struct{}
	closeOnce sync.Once
	replySub  message.Subscriber
}

// New connects the AMQP host link and starts tailing the reply queue.
func New(ctx context.Context, uri string, logger *slog.Logger) (*Transport, error) {
	t := &Transport{
		uri:      uri,
		clientID: uuid.NewString(),
		logger:   logger.With(slog.String("component", "transport.amqp")),
		wmLogger: watermill.NewSlogLogger(logger),
		pending:  make(map[string]chan *transport.Frame),
		closed:   make(chan struct{}),
	}

	pub, err := wamqp.NewPublisher(t.publisherConfig(RequestsExchange), t.wmLogger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}
	t.publisher = pub

	if err := t.startReplyLoop(ctx); err != nil {
		_ = pub.Close()
		return nil, err
	}

	t.logger.Info("host link established", slog.String("client_id", t.clientID))
	return t, nil
}

// Call publishes one request frame and awaits the correlated reply.
func (t *Transport) Call(ctx context.Context, command string, payload []byte) ([]byte, error) {
	id := uuid.NewString()
	ch := t.register(id)
	defer t.deregister(id)

	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(correlationIDKey, id)
	msg.Metadata.Set(commandKey, command)
	msg.Metadata.Set(replyToKey, t.replyTopic())
	msg.SetContext(ctx)

	if err := t.publisher.Publish(command, msg); err != nil {
		return nil, fmt.Errorf("publish command %q: %w", command, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, transport.ErrClosed
	case res := <-ch:
		if res.Error != nil {
			return nil, res.Error.ToBridge()
		}
		return res.Payload, nil
	}
}

// Subscribe binds a fresh queue for topic on the events exchange. The
// subscriber handshake (declare + bind) failing is the registration failure.
func (t *Transport) Subscribe(ctx context.Context, topic string) (transport.Stream, error) {
	select {
	case <-t.closed:
		return nil, transport.ErrClosed
	default:
	}

	sub, err := wamqp.NewSubscriber(t.subscriberConfig(EventsExchange, t.clientID), t.wmLogger)
	if err != nil {
		return nil, fmt.Errorf("amqp subscriber: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	msgs, err := sub.Subscribe(streamCtx, topic)
	if err != nil {
		cancel()
		_ = sub.Close()
		return nil, fmt.Errorf("bind topic %q: %w", topic, err)
	}

	s := &stream{cancel: cancel, sub: sub, ch: make(chan []byte)}
	go func() {
		defer close(s.ch)
		for msg := range msgs {
			select {
			case s.ch <- msg.Payload:
				msg.Ack()
			case <-streamCtx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return s, nil
}

// Close tears down the link. Pending calls observe ErrClosed.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.replySub != nil {
			err = t.replySub.Close()
		}
		if perr := t.publisher.Close(); err == nil {
			err = perr
		}
	})
	return err
}

func (t *Transport) replyTopic() string {
	return repliesPrefix + t.clientID
}

func (t *Transport) register(id string) chan *transport.Frame {
	ch := make(chan *transport.Frame, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()
	return ch
}

func (t *Transport) deregister(id string) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

// startReplyLoop tails the client's private reply queue and resolves pending
// calls by correlation id. Replies carry a response frame as payload.
func (t *Transport) startReplyLoop(ctx context.Context) error {
	sub, err := wamqp.NewSubscriber(t.subscriberConfig(RequestsExchange, t.clientID), t.wmLogger)
	if err != nil {
		return fmt.Errorf("amqp reply subscriber: %w", err)
	}
	t.replySub = sub

	msgs, err := sub.Subscribe(ctx, t.replyTopic())
	if err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe replies: %w", err)
	}

	go func() {
		for msg := range msgs {
			var f transport.Frame
			if err := json.Unmarshal(msg.Payload, &f); err != nil {
				t.logger.Error("malformed reply from host", slog.Any("err", err))
				msg.Ack()
				continue
			}
			if f.ID == "" {
				f.ID = msg.Metadata.Get(correlationIDKey)
			}

			t.pendingMu.Lock()
			ch, ok := t.pending[f.ID]
			t.pendingMu.Unlock()
			if ok {
				select {
				case ch <- &f:
				default:
				}
			}
			msg.Ack()
		}
	}()
	return nil
}

func (t *Transport) publisherConfig(exchange string) wamqp.Config {
	cfg := wamqp.NewDurablePubSubConfig(t.uri, nil)
	cfg.Exchange = exchangeConfig(exchange)
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	return cfg
}

func (t *Transport) subscriberConfig(exchange, suffix string) wamqp.Config {
	cfg := wamqp.NewDurablePubSubConfig(t.uri,
		wamqp.GenerateQueueNameTopicNameWithSuffix("."+suffix),
	)
	cfg.Exchange = exchangeConfig(exchange)
	cfg.Queue.Durable = false
	cfg.Queue.AutoDelete = true
	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	return cfg
}

func exchangeConfig(name string) wamqp.ExchangeConfig {
	return wamqp.ExchangeConfig{
		GenerateName: func(string) string { return name },
		Type:         "topic",
		Durable:      true,
	}
}

type stream struct {
	cancel    context.CancelFunc
	sub       message.Subscriber
	ch        chan []byte
	closeOnce sync.Once
}

func (s *stream) Recv() <-chan []byte { return s.ch }

func (s *stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.sub.Close()
	})
}
