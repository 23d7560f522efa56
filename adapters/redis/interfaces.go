//go:generate mockgen -package=redis -destination=mock.go -source=interfaces.go

package redis

import (
	"context"
)

type IProducer[T any] interface {
	Start()
	Publish(data T) error
	Close()
}

type IConsumer[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

type IGroupConsumer[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

// IAutoRenewMutex is a distributed lock that keeps itself alive until
// Unlock. The context returned by Lock is cancelled when the lock is lost.
type IAutoRenewMutex interface {
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}
