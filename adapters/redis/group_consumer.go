package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetterStream is where messages that failed for good end up.
func DeadLetterStream(stream string) string {
	return stream + ":dead-letter"
}

// Message is one stream entry handed out by a GroupConsumer. It stays
// pending in the group until Done or Fail is called.
type Message[T any] struct {
	Data T
	ID   string

	client *redis.Client
	done   bool
	stream string
	group  string
	raw    map[string]any
}

// Done acknowledges the message.
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.ID).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to ack message %s, err=%w", op, m.ID, err)
	}
	m.done = true
	return nil
}

// Fail copies the message with the failure reason to the dead-letter
// stream and acknowledges it.
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Message.Fail"
	if m.done {
		return nil
	}

	values := make(map[string]any, len(m.raw)+2)
	for k, v := range m.raw {
		values[k] = v
	}
	values["error"] = failErr.Error()
	values["source_id"] = m.ID
	if err := m.client.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream(m.stream), Values: values}).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to dead-letter message %s, err=%w", op, m.ID, err)
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.ID).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to ack failed message %s, err=%w", op, m.ID, err)
	}
	m.done = true
	return nil
}

type groupConsumerOptions[T any] struct {
	logger         *slog.Logger
	decode         func(map[string]any) (T, error)
	bufferSize     int
	blockTimeout   time.Duration
	retryDelay     time.Duration
	mutex          IAutoRenewMutex
	strictOrdering bool
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

func WithGroupConsumerDecoder[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.decode = fn
	}
}

func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

func WithGroupConsumerRetryDelay[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.retryDelay = d
	}
}

// WithGroupConsumerMutex replaces the lock used in strict ordering mode.
func WithGroupConsumerMutex[T any](mutex IAutoRenewMutex) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.mutex = mutex
	}
}

// WithGroupConsumerStrictOrdering lets only the lock holder of the group
// consume. The holder first takes over every entry left pending by other
// consumers, so messages are handled one at a time in stream order.
func WithGroupConsumerStrictOrdering[T any](strict bool) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.strictOrdering = strict
	}
}

// GroupConsumer reads a stream as a member of a consumer group. Entries it
// received before a restart and never acknowledged are delivered again
// first.
type GroupConsumer[T any] struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	downStream chan *Message[T]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	mutex      IAutoRenewMutex
	options    groupConsumerOptions[T]
}

var _ IGroupConsumer[struct{}] = (*GroupConsumer[struct{}])(nil)

func NewGroupConsumer[T any](client *redis.Client, stream, group, consumer string, opts ...GroupConsumerOption[T]) (*GroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	options := groupConsumerOptions[T]{
		logger:       slog.Default(),
		decode:       DecodeMessage[T],
		bufferSize:   1,
		blockTimeout: time.Second,
		retryDelay:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}

	gc := &GroupConsumer[T]{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		logger: options.logger.With(
			slog.String("caller", "GroupConsumer"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer)),
		options: options,
	}
	if options.strictOrdering {
		gc.mutex = options.mutex
		if gc.mutex == nil {
			gc.mutex = NewAutoRenewMutex(client, fmt.Sprintf("lock:%s:%s", stream, group), WithAutoRenewMutexSkipLockError(true))
		}
	}
	return gc, nil
}

func (s *GroupConsumer[T]) Start() error {
	if !s.closed {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan *Message[T], s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("Starting group consumer")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Group consumer stopped")
		defer close(s.downStream)
		if s.options.strictOrdering {
			defer s.mutex.Unlock()
		}

		for ctx.Err() == nil {
			workCtx := ctx
			if s.options.strictOrdering {
				// workCtx is cancelled when the lock is lost
				lockCtx, err := s.mutex.Lock(ctx)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.Error("Fail to acquire consumer lock", slog.Any("error", err))
						sleep(ctx, s.options.retryDelay)
					}
					continue
				}
				workCtx = lockCtx
			}

			err := s.consume(workCtx)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.Canceled) {
				s.logger.Warn("Consumer lock lost, restarting")
				continue
			}
			s.logger.Error("Fail to consume, restarting", slog.Any("error", err))
			sleep(ctx, s.options.retryDelay)
		}
	}()
	return nil
}

func (s *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return s.downStream
}

func (s *GroupConsumer[T]) Close() error {
	if s.closed {
		return nil
	}
	s.logger.Info("Closing group consumer")
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
	return nil
}

// consume hands out messages until ctx ends or the group cannot be read.
// It starts with the entries already pending for this consumer and then
// switches to new ones.
func (s *GroupConsumer[T]) consume(ctx context.Context) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	if s.options.strictOrdering {
		if err := s.claimPending(ctx); err != nil {
			return err
		}
	}

	cursor := "0"
	for {
		message, err := s.fetchNextMessage(ctx, cursor)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if cursor != ">" {
					s.logger.Debug("Pending entries delivered, reading new ones")
					cursor = ">"
				}
				continue
			}
			if ctx.Err() != nil {
				return context.Canceled
			}
			s.logger.Error("Fail to read group", slog.Any("error", err))
			sleep(ctx, s.options.retryDelay)
			continue
		}
		if cursor != ">" {
			cursor = message.ID
		}

		data, err := s.options.decode(message.Values)
		if err != nil {
			// a message that cannot be decoded never will be
			s.logger.Error("Fail to decode message",
				slog.String("messageID", message.ID),
				slog.Any("error", err))
			if err := s.moveToDeadLetter(ctx, message, err); err != nil {
				return err
			}
			continue
		}

		msg := &Message[T]{
			Data:   data,
			ID:     message.ID,
			client: s.client,
			stream: s.stream,
			group:  s.group,
			raw:    message.Values,
		}
		select {
		case <-ctx.Done():
			return context.Canceled
		case s.downStream <- msg:
		}
	}
}

func (s *GroupConsumer[T]) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// claimPending moves every entry pending in the group to this consumer.
func (s *GroupConsumer[T]) claimPending(ctx context.Context) error {
	start := "0-0"
	var claimed int
	for {
		messages, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			return fmt.Errorf("claim pending entries: %w", err)
		}
		claimed += len(messages)
		if next == "0-0" || next == "" {
			break
		}
		start = next
	}
	if claimed > 0 {
		s.logger.Info("Claimed pending entries", slog.Int("count", claimed))
	}
	return nil
}

// fetchNextMessage returns redis.Nil when nothing is available.
func (s *GroupConsumer[T]) fetchNextMessage(ctx context.Context, cursor string) (redis.XMessage, error) {
	block := s.options.blockTimeout
	if cursor != ">" {
		// reading history never blocks
		block = -1
	}
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, cursor},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		return redis.XMessage{}, err
	}
	if len(streams) > 0 && len(streams[0].Messages) > 0 {
		return streams[0].Messages[0], nil
	}
	return redis.XMessage{}, redis.Nil
}

func (s *GroupConsumer[T]) moveToDeadLetter(ctx context.Context, message redis.XMessage, cause error) error {
	values := make(map[string]any, len(message.Values)+2)
	for k, v := range message.Values {
		values[k] = v
	}
	values["error"] = cause.Error()
	values["source_id"] = message.ID
	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterStream(s.stream), Values: values}).Err(); err != nil {
		return fmt.Errorf("dead-letter message %s: %w", message.ID, err)
	}
	return s.client.XAck(ctx, s.stream, s.group, message.ID).Err()
}
