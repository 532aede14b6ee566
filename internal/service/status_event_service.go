package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/observability"
)

const statusEventBufferSize = 16

// StatusPublisher announces certificate status changes.
type StatusPublisher interface {
	Publish(ctx context.Context, event dto.StatusEvent)
}

// StatusEventService streams certificate status changes to subscribers on
// every node.
type StatusEventService interface {
	StatusPublisher
	Subscribe(studentID string) (<-chan dto.StatusEvent, func())
	Start(ctx context.Context)
}

type statusEventService struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	broker       *statusBroker
	nodeID       string
}

type statusEnvelope struct {
	Source string          `json:"source"`
	Event  dto.StatusEvent `json:"event"`
	SentAt time.Time       `json:"sent_at"`
}

type statusBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.StatusEvent]struct{}
}

// NewStatusEventService constructs the status event service. Redis and NATS are optional.
func NewStatusEventService(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) StatusEventService {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":certificate-status"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".certificate-status"
	}

	return &statusEventService{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "status_event_service").Logger(),
		broker: &statusBroker{
			subscribers: make(map[string]map[chan dto.StatusEvent]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (s *statusEventService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		s.consumeNATS(ctx)
	}
}

func (s *statusEventService) Publish(ctx context.Context, event dto.StatusEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	s.broker.broadcast(event)
	if err := s.fanOut(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("student_id", event.StudentID).Msg("failed to fan out status event")
	}
}

func (s *statusEventService) Subscribe(studentID string) (<-chan dto.StatusEvent, func()) {
	channel := make(chan dto.StatusEvent, statusEventBufferSize)

	s.broker.subscribe(studentID, channel)
	observability.StatusStreamClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(studentID, channel)
			observability.StatusStreamClients().Dec()
		})
	}

	return channel, cleanup
}

func (s *statusEventService) fanOut(ctx context.Context, event dto.StatusEvent) error {
	payload, err := json.Marshal(statusEnvelope{Source: s.nodeID, Event: event, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	var errs []error
	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *statusEventService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("status event redis subscription closed")
			return
		}
		s.handleEnvelope([]byte(msg.Payload))
	}
}

// consumeNATS subscribes without a queue group so every node sees every event.
func (s *statusEventService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleEnvelope(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats status subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain status nats subscription")
		}
	}()
}

func (s *statusEventService) handleEnvelope(payload []byte) {
	var envelope statusEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid status event payload")
		return
	}

	if envelope.Source == s.nodeID {
		return
	}

	s.broker.broadcast(envelope.Event)
}

func (b *statusBroker) subscribe(studentID string, ch chan dto.StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[studentID]; !exists {
		b.subscribers[studentID] = make(map[chan dto.StatusEvent]struct{})
	}
	b.subscribers[studentID][ch] = struct{}{}
}

func (b *statusBroker) unsubscribe(studentID string, ch chan dto.StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[studentID]; ok {
		if _, present := subscribers[ch]; !present {
			return
		}
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, studentID)
		}
	}
}

// broadcast never blocks; slow subscribers miss events.
func (b *statusBroker) broadcast(event dto.StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[event.StudentID] {
		select {
		case ch <- event:
		default:
		}
	}
}
