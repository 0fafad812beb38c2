package session

import (
	"context"
	"sync"
	"time"
)

// Token is the cooperative cancellation flag of one run.
// It moves from not-cancelled to cancelled once and never resets.
type Token struct {
	once sync.Once
	ch   chan struct{}
}

// NewToken returns an uncancelled token.
func NewToken() *Token {
	return &Token{ch: make(chan struct{})}
}

// Cancel sets the flag. Safe to call more than once.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.ch) })
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done is closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} { return t.ch }

// Bind derives a context that is cancelled with ErrCancelled as cause when
// the token fires, or when parent is done.
func (t *Token) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-t.ch:
			cancel(ErrCancelled)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// Sleep pauses for d. It returns ErrCancelled if the token fires first and
// ctx.Err() if ctx is done first.
func (t *Token) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-t.ch:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}
