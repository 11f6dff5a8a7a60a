package enhance

import (
	"encoding/json"

	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/pulse/async"
)

// Dispatcher turns ticket events into queued ticket.enhance jobs
type Dispatcher struct {
	queue *async.Queue
}

// NewDispatcher creates a dispatcher that enqueues onto queue
func NewDispatcher(queue *async.Queue) *Dispatcher {
	return &Dispatcher{queue: queue}
}

// Submit validates ev and enqueues it. Every call creates a new job; a ticket updated
// twice is enhanced twice.
func (d *Dispatcher) Submit(ev Event) (*async.Job, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	ev.JobID = ""

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal ticket event")
	}

	job, err := async.NewJob(HandlerName, ev.TenantID+"/"+ev.TicketID, payload)
	if err != nil {
		return nil, err
	}
	if err := d.queue.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}
