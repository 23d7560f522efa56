package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type consumerOptions[T any] struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
	retryDelay   time.Duration
	decode       func(map[string]any) (T, error)
}

type ConsumerOption[T any] func(*consumerOptions[T])

func WithConsumerLogger[T any](logger *slog.Logger) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.logger = logger
	}
}

func WithConsumerBufferSize[T any](size int) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithConsumerBlockTimeout sets how long one XREAD waits for new entries.
func WithConsumerBlockTimeout[T any](d time.Duration) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithConsumerRetryDelay sets the pause after a failed read.
func WithConsumerRetryDelay[T any](d time.Duration) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.retryDelay = d
	}
}

func WithConsumerDecoder[T any](fn func(map[string]any) (T, error)) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.decode = fn
	}
}

// Consumer tails a stream from the moment it starts. Every instance sees
// every message; there is no acknowledgement.
type Consumer[T any] struct {
	client     *redis.Client
	stream     string
	lastID     string
	downStream chan T
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	stopped    bool
	logger     *slog.Logger
	options    consumerOptions[T]
}

var _ IConsumer[struct{}] = (*Consumer[struct{}])(nil)

func NewConsumer[T any](client *redis.Client, stream string, opts ...ConsumerOption[T]) (*Consumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := consumerOptions[T]{
		logger:       slog.Default(),
		bufferSize:   100,
		blockTimeout: time.Second,
		retryDelay:   500 * time.Millisecond,
		decode:       DecodeMessage[T],
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Consumer[T]{
		client:     client,
		stream:     stream,
		downStream: make(chan T, options.bufferSize),
		closed:     true,
		logger:     options.logger.With(slog.String("caller", "Consumer"), slog.String("stream", stream)),
		options:    options,
	}, nil
}

// Start begins reading. The channel from Subscribe is closed once the
// consumer stops; a closed consumer cannot be started again.
func (s *Consumer[T]) Start() {
	if !s.closed || s.stopped {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.closed = false
	s.cancelFunc = cancel
	s.logger.Info("Starting stream consumer")
	s.lastID = s.tail(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Stream consumer stopped")
		defer close(s.downStream)

		for ctx.Err() == nil {
			message, err := s.fetchNextMessage(ctx)
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				s.logger.Error("Fail to read stream", slog.Any("error", err))
				sleep(ctx, s.options.retryDelay)
				continue
			}

			data, err := s.options.decode(message.Values)
			if err != nil {
				s.logger.Error("Fail to decode message",
					slog.String("messageID", message.ID),
					slog.Any("error", err))
				continue
			}

			select {
			case <-ctx.Done():
				return
			case s.downStream <- data:
			}
		}
	}()
}

// tail returns the id of the newest entry. Reading from it instead of "$"
// keeps entries added between two reads.
func (s *Consumer[T]) tail(ctx context.Context) string {
	messages, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", 1).Result()
	if err != nil {
		s.logger.Warn("Fail to find stream tail, reading new entries only", slog.Any("error", err))
		return "$"
	}
	if len(messages) == 0 {
		return "0-0"
	}
	return messages[0].ID
}

func (s *Consumer[T]) fetchNextMessage(ctx context.Context) (redis.XMessage, error) {
	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.stream, s.lastID},
		Count:   1,
		Block:   s.options.blockTimeout,
	}).Result()
	if err != nil {
		return redis.XMessage{}, err
	}

	if len(streams) > 0 && len(streams[0].Messages) > 0 {
		message := streams[0].Messages[0]
		s.lastID = message.ID
		return message, nil
	}
	return redis.XMessage{}, redis.Nil
}

func (s *Consumer[T]) Subscribe() <-chan T {
	return s.downStream
}

func (s *Consumer[T]) Close() {
	if s.closed {
		return
	}
	s.logger.Info("Closing stream consumer")
	s.closed = true
	s.stopped = true
	s.cancelFunc()
	s.wg.Wait()
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
