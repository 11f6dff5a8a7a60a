package server

import (
	"time"

	"github.com/teranos/ticketpulse/logger"
	"github.com/teranos/ticketpulse/pulse/async"
)

// broadcastMessage sends msg to all connected clients.
// Returns the number of clients that accepted it; full client queues are skipped.
// Sends never block, so the read lock is held throughout: client queues are only
// closed under the write lock.
func (s *Server) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for client := range s.clients {
		select {
		case client.send <- msg:
			sent++
		default:
			s.broadcastDrops.Add(1)
		}
	}
	return sent
}

// BroadcastJobUpdate implements pulse.JobBroadcaster
func (s *Server) BroadcastJobUpdate(job interface{}) {
	j, ok := job.(*async.Job)
	if !ok || j == nil {
		return
	}
	sent := s.broadcastMessage(JobUpdateMessage{
		Type:      "job_update",
		Job:       j,
		Timestamp: time.Now().Unix(),
	})
	s.logger.Debugw(logger.SymPulse+" Job update broadcast",
		logger.FieldJobID, shortID(j.ID),
		logger.FieldStatus, j.Status,
		"clients", sent,
	)
}

// startJobUpdateBroadcaster subscribes to queue updates and forwards them to clients
func (s *Server) startJobUpdateBroadcaster() {
	jobChan := s.queue.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Unsubscribe before close: the queue must never send on a closed channel
		defer func() {
			s.queue.Unsubscribe(jobChan)
			close(jobChan)
		}()

		for {
			select {
			case <-s.ctx.Done():
				return
			case job := <-jobChan:
				s.BroadcastJobUpdate(job)
			}
		}
	}()

	s.logger.Debugw("Job update broadcaster started")
}
