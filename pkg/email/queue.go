package email

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

var (
	ErrQueueFull    = errors.New("mail queue is full")
	ErrQueueStopped = errors.New("mail queue is not running")
)

const sendTimeout = 30 * time.Second

// Queue decouples email delivery from request handling. Failed sends are logged
// and dropped; callers never observe delivery errors.
type Queue struct {
	dispatcher Dispatcher
	workers    int
	jobs       chan Message
	wg         sync.WaitGroup
	mu         sync.RWMutex
	running    bool
}

func NewQueue(dispatcher Dispatcher, size, workers int) *Queue {
	if size <= 0 {
		size = 100
	}
	if workers <= 0 {
		workers = 2
	}
	return &Queue{
		dispatcher: dispatcher,
		workers:    workers,
		jobs:       make(chan Message, size),
	}
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.running = true

	log.Infof("[MailQueue] Starting %d workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Enqueue schedules msg for delivery without blocking.
func (q *Queue) Enqueue(msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.running {
		return ErrQueueStopped
	}

	select {
	case q.jobs <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains pending messages and waits for workers until ctx expires.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("[MailQueue] Stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for msg := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := q.dispatcher.Send(ctx, msg); err != nil {
			log.Errorf("[MailQueue] worker %d: template %d to %s failed: %v", id, msg.TemplateID, msg.To, err)
		}
		cancel()
	}
}
