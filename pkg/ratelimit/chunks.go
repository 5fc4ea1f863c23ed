package ratelimit

import (
	"context"

	"github.com/sdejongh/remotefs/pkg/content"
)

// Chunks returns an iterator yielding the chunks of it no faster than l
// allows. Closing the result closes it. A nil limiter returns it unchanged.
func Chunks(ctx context.Context, it *content.Iterator, l *Limiter) *content.Iterator {
	if l == nil {
		return it
	}
	out := content.FromFunc(func() ([]byte, error) {
		chunk, err := it.Next()
		if err != nil {
			return nil, err
		}
		if err := l.Wait(ctx, int64(len(chunk))); err != nil {
			return nil, err
		}
		return chunk, nil
	})
	if it.Text() {
		out.MarkText()
	}
	return out.WithCloser(it)
}
