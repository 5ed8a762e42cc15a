package dispatch

import "go.uber.org/zap"

// idlePool bounds the number of concurrent findAssignmentForIdle
// follow-ups in flight, the same non-blocking buffered-semaphore idiom a
// bounded concurrent worker set uses elsewhere in this corpus: acquire
// with a non-blocking select/default before spawning a goroutine, release
// on completion, drop the follow-up rather than block if the pool is
// saturated (the next reconciliation sweep will retry the zone anyway).
type idlePool struct {
	sem chan struct{}
	log *zap.Logger
}

func newIdlePool(size int, log *zap.Logger) *idlePool {
	if size < 1 {
		size = 1
	}
	return &idlePool{sem: make(chan struct{}, size), log: log}
}

// Try runs fn on a pooled goroutine if a slot is free, otherwise drops it.
// A panicking fn is caught and logged at the task boundary (spec §7:
// "Worker-task exceptions are caught at the task boundary and logged"),
// never propagating to the caller.
func (p *idlePool) Try(fn func()) {
	select {
	case p.sem <- struct{}{}:
	default:
		p.log.Debug("idle worker pool saturated, dropping follow-up")
		return
	}
	go func() {
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("idle-assignment worker panicked", zap.Any("recover", r))
			}
		}()
		fn()
	}()
}
