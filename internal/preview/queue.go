// Package preview implements the PreviewStreamer (C9): MJPEG and RTMP output
// modes sharing one overlay renderer and a bounded, latest-frame-collapsing
// internal queue.
package preview

import (
	"sync"

	"github.com/edgevision/aibox/internal/model"
)

// LatestFrameQueue fans one pipeline's processed frames out to N
// subscribers (MJPEG viewers), each seeing only the newest frame: a
// subscriber's channel is a buffer of 1, and Push drains-then-replaces a
// full channel so a slow client never backs up the producer.
type LatestFrameQueue struct {
	mu          sync.Mutex
	subscribers map[int]chan *model.FrameResult
	nextID      int
}

// NewLatestFrameQueue returns an empty queue.
func NewLatestFrameQueue() *LatestFrameQueue {
	return &LatestFrameQueue{subscribers: make(map[int]chan *model.FrameResult)}
}

// Subscribe registers a new viewer and returns its id and read channel.
// Unsubscribe must be called when the viewer disconnects.
func (q *LatestFrameQueue) Subscribe() (int, <-chan *model.FrameResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	ch := make(chan *model.FrameResult, 1)
	q.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a viewer.
func (q *LatestFrameQueue) Unsubscribe(id int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.subscribers, id)
}

// Push fans fr out to every subscriber, collapsing backlog to the newest
// frame per subscriber.
func (q *LatestFrameQueue) Push(fr *model.FrameResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subscribers {
		select {
		case ch <- fr:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- fr:
			default:
			}
		}
	}
}

// SubscriberCount reports the current number of live viewers.
func (q *LatestFrameQueue) SubscriberCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subscribers)
}
