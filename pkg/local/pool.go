package local

import (
	"context"
	"sync"
)

// Task is one unit of partition work. It receives the pool's context.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of slots.
type Pool struct {
	ctx   context.Context
	slots int
	tasks chan Task
	wg    sync.WaitGroup
}

func NewPool(ctx context.Context, slots int) *Pool {
	return &Pool{
		ctx:   ctx,
		slots: max(1, slots),
		tasks: make(chan Task),
	}
}

func (p *Pool) Start() {
	for range p.slots {
		p.wg.Go(func() {
			for task := range p.tasks {
				task(p.ctx)
			}
		})
	}
}

// Submit blocks until a slot accepts task. It returns false without running
// task once the pool's context is done.
func (p *Pool) Submit(task Task) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Close waits for accepted tasks to finish. Submit must not be called after
// Close.
func (p *Pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}
