package negotiation

import (
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/executor"
)

// DescriptionCompletion is a single-use result slot for an asynchronous
// create or set description request.
//
// The transport calls Resolve or Reject from any goroutine. Only the first call
// counts; the matching handler is then delivered through the scheduler. If the
// scheduler has shut down the result is dropped.
type DescriptionCompletion struct {
	sched     executor.Scheduler
	onSuccess func(SessionDescription)
	onFailure func(error)

	once sync.Once
}

// NewDescriptionCompletion returns an unfulfilled completion whose handlers
// run on sched. Either handler may be nil.
func NewDescriptionCompletion(sched executor.Scheduler, onSuccess func(SessionDescription), onFailure func(error)) *DescriptionCompletion {
	return &DescriptionCompletion{
		sched:     sched,
		onSuccess: onSuccess,
		onFailure: onFailure,
	}
}

// Resolve fulfils the completion. It reports whether this call won.
func (c *DescriptionCompletion) Resolve(desc SessionDescription) bool {
	return c.fulfil(func() {
		if c.onSuccess != nil {
			c.onSuccess(desc)
		}
	})
}

// Reject fails the completion. It reports whether this call won.
func (c *DescriptionCompletion) Reject(err error) bool {
	return c.fulfil(func() {
		if c.onFailure != nil {
			c.onFailure(err)
		}
	})
}

func (c *DescriptionCompletion) fulfil(deliver func()) bool {
	won := false
	c.once.Do(func() {
		won = true
		c.sched.Schedule(deliver)
	})
	return won
}
