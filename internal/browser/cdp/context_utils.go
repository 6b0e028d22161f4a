package cdp

import (
	"context"
	"time"
)

// CombineContext returns a context derived from tabCtx, so it keeps the chromedp target values, that is
// also canceled when opCtx is done. opCtx usually carries the caller's deadline.
func CombineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)
	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// valueOnlyContext keeps the values of its parent but drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }

func (valueOnlyContext) Done() <-chan struct{} { return nil }

func (valueOnlyContext) Err() error { return nil }

// Detach returns a context that inherits values from ctx but is not canceled when ctx is. The browser
// allocator uses it so the process is torn down by Manager.Close, not by whoever asked for the first page.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
