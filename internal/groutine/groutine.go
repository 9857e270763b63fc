// Package groutine starts named goroutines. The name is attached as a pprof
// label and stored in the context, so goroutine dumps and debug logs show
// which loop is which.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn in a goroutine labeled with name.
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}

// Group runs named goroutines sharing one context and waits for all of them.
type Group struct {
	ctx context.Context
	wg  sync.WaitGroup
}

// NewGroup creates a group whose goroutines receive ctx
func NewGroup(ctx context.Context) *Group {
	return &Group{ctx: ctx}
}

// Go starts fn as a named goroutine of the group
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(g.ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Wait blocks until every goroutine of the group returned
func (g *Group) Wait() {
	g.wg.Wait()
}
