package gosync

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Go spawns a goroutine that recovers its own panics, so a fault in one
// session task cannot take the whole adapter down.
func Go(ctx context.Context, task func(ctx context.Context)) {
	go func(ctx context.Context, f func(ctx context.Context)) {
		defer func() {
			if err := recover(); err != nil {
				logrus.Errorf("goroutine panic recovered, err = %v", err)
			}
		}()

		f(ctx)
	}(ctx, task)
}
