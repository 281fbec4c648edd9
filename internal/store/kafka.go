package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaOpener opens workspace stores backed by one Kafka topic per
// workspace. With an empty ConsumerGroup every open replays the topic from
// the first offset so History and Board see the full log; with a group the
// reader resumes at the group's committed offset.
type KafkaOpener struct {
	Brokers       []string
	TopicPrefix   string
	ConsumerGroup string
	DialTimeout   time.Duration
}

// Topic returns the topic that holds storeID's log.
func (o *KafkaOpener) Topic(storeID string) string {
	return o.TopicPrefix + storeID
}

// Open checks broker reachability and starts consuming the workspace topic.
func (o *KafkaOpener) Open(ctx context.Context, storeID string) (Store, error) {
	if len(o.Brokers) == 0 {
		return nil, errors.New("kafka store: no brokers configured")
	}
	if err := o.ping(ctx); err != nil {
		return nil, err
	}

	topic := o.Topic(storeID)
	readerCfg := kafka.ReaderConfig{
		Brokers:  o.Brokers,
		Topic:    topic,
		GroupID:  o.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if o.ConsumerGroup != "" {
		readerCfg.StartOffset = kafka.FirstOffset
	}
	reader := kafka.NewReader(readerCfg)
	if o.ConsumerGroup == "" {
		if err := reader.SetOffset(kafka.FirstOffset); err != nil {
			reader.Close()
			return nil, fmt.Errorf("kafka store %s: set offset: %w", storeID, err)
		}
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(o.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	s := newKafkaStore(storeID, topic, reader, writer)
	s.start()
	return s, nil
}

func (o *KafkaOpener) ping(ctx context.Context) error {
	timeout := o.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var lastErr error
	for _, broker := range o.Brokers {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := kafka.DialContext(dctx, "tcp", strings.TrimSpace(broker))
		cancel()
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("kafka store: no reachable broker: %w", lastErr)
}

// messageReader is the part of *kafka.Reader the store uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// messageWriter is the part of *kafka.Writer the store uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaStore is a Store backed by a Kafka topic. Consumed events are kept
// in a local log that serves History, Board and subscriptions.
type KafkaStore struct {
	id     string
	topic  string
	reader messageReader
	writer messageWriter
	log    *eventLog

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

func newKafkaStore(storeID, topic string, r messageReader, w messageWriter) *KafkaStore {
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaStore{
		id:     storeID,
		topic:  topic,
		reader: r,
		writer: w,
		log:    newEventLog(storeID),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *KafkaStore) start() {
	go func() {
		defer close(s.done)
		for {
			msg, err := s.reader.ReadMessage(s.ctx)
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				slog.Warn("KafkaStore: read error", "store_id", s.id, "topic", s.topic, "error", err)
				select {
				case <-s.ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			e, err := decodeEvent(msg.Value)
			if err != nil {
				slog.Warn("KafkaStore: skipping undecodable event", "store_id", s.id, "offset", msg.Offset, "error", err)
				continue
			}
			s.log.append(e)
		}
	}()
}

// ID returns the workspace id.
func (s *KafkaStore) ID() string { return s.id }

// SubscribeUserMessages implements Store.
func (s *KafkaStore) SubscribeUserMessages(ctx context.Context, handler MessageHandler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	sub := s.log.subscribe(ctx, handler)
	s.subs = append(s.subs, sub)
	return sub, nil
}

// Commit produces events keyed by conversation and applies them locally so
// readers of this handle see their own writes immediately.
func (s *KafkaStore) Commit(ctx context.Context, events ...Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if len(events) == 0 {
		return nil
	}

	events = stamp(s.id, events)
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("kafka store %s: encode event %s: %w", s.id, e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.ConversationID),
			Value: value,
			Time:  e.CreatedAt,
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka store %s: write: %w", s.id, err)
	}
	s.log.append(events...)
	return nil
}

// History implements Store.
func (s *KafkaStore) History(ctx context.Context, conversationID string, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.log.history(conversationID, limit), nil
}

// Board implements Store.
func (s *KafkaStore) Board(ctx context.Context) (*Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.log.board(), nil
}

// Close stops consuming and releases the reader and writer.
func (s *KafkaStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	s.cancel()
	rerr := s.reader.Close()
	<-s.done
	werr := s.writer.Close()
	return errors.Join(rerr, werr)
}

func decodeEvent(value []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(value, &e); err != nil {
		return Event{}, err
	}
	if e.ID == "" || e.Type == "" {
		return Event{}, errors.New("missing id or type")
	}
	return e, nil
}
