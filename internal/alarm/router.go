package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/edgevision/aibox/internal/model"
	"github.com/edgevision/aibox/internal/obslog"
	"github.com/edgevision/aibox/internal/workerpool"
)

const defaultChannelDeadline = 10 * time.Second

// ConfigProvider snapshots the currently enabled alarm configs, decoupling
// the router from any particular ConfigStore implementation.
type ConfigProvider func(ctx context.Context) ([]model.AlarmConfig, error)

// Router is the AlarmRouter (C12): a bounded priority queue drained by a
// single processing goroutine that fans each alarm out to every enabled
// channel in parallel via the shared WorkerPool.
type Router struct {
	queue      *Queue
	pool       *workerpool.Pool
	channels   map[model.AlarmMethod]Channel
	configs    ConfigProvider
	history    *History
	log        *obslog.Logger
	deadline   time.Duration

	stop chan struct{}
	wg   sync.WaitGroup

	// optional NATS event mirror for external subscribers
	nc          *nats.Conn
	natsSubject string
	natsRetries int
}

// Options configures a Router.
type Options struct {
	MaxQueue        int
	MaxHistory      int
	ChannelDeadline time.Duration
	NATS            *nats.Conn
	NATSSubject     string
	NATSRetries     int
}

// NewRouter wires a Router over the given WorkerPool and ConfigProvider.
func NewRouter(pool *workerpool.Pool, configs ConfigProvider, opts Options) *Router {
	deadline := opts.ChannelDeadline
	if deadline <= 0 {
		deadline = defaultChannelDeadline
	}
	maxQueue := opts.MaxQueue
	if maxQueue <= 0 {
		maxQueue = 256
	}
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 100
	}

	r := &Router{
		queue:       NewQueue(maxQueue),
		pool:        pool,
		channels:    make(map[model.AlarmMethod]Channel),
		configs:     configs,
		history:     NewHistory(maxHistory),
		log:         obslog.New("alarm"),
		deadline:    deadline,
		stop:        make(chan struct{}),
		nc:          opts.NATS,
		natsSubject: opts.NATSSubject,
		natsRetries: opts.NATSRetries,
	}
	return r
}

// RegisterChannel installs a delivery backend for its method.
func (r *Router) RegisterChannel(ch Channel) {
	r.channels[ch.Method()] = ch
}

// Channel returns the registered backend for method, if any. Used by the
// HTTP server to expose a registered WebSocketChannel's upgrade endpoint.
func (r *Router) Channel(method model.AlarmMethod) (Channel, bool) {
	ch, ok := r.channels[method]
	return ch, ok
}

// Start launches the single processing goroutine.
func (r *Router) Start() {
	r.wg.Add(1)
	go r.processLoop()
}

// closer is implemented by channels that own background goroutines needing
// an explicit join on shutdown (WebSocketChannel, MQTTChannel).
type closer interface {
	Close()
}

// Stop signals the processing goroutine to exit, waits for it, then closes
// every registered channel that owns background goroutines of its own.
func (r *Router) Stop() {
	close(r.stop)
	r.wg.Wait()

	for _, ch := range r.channels {
		if c, ok := ch.(closer); ok {
			c.Close()
		}
	}
}

// Trigger synthesizes an AlarmPayload from one BehaviorEvent and enqueues
// it, assigning alarmId and computing priority per spec.md §4.12.
func (r *Router) Trigger(cameraID string, ev model.BehaviorEvent, testFlag bool) model.AlarmPayload {
	payload := model.AlarmPayload{
		AlarmID:      uuid.NewString(),
		EventType:    ev.Type,
		CameraID:     cameraID,
		RuleID:       ev.RuleID,
		ObjectID:     fmt.Sprintf("%s:%d", ev.ObjectRef.CameraID, ev.ObjectRef.LocalID),
		Confidence:   ev.Confidence,
		Priority:     PriorityFor(ev.Type, ev.Confidence),
		TimestampUTC: ev.TimestampUTC,
		Metadata:     ev.Metadata,
		BBox:         ev.BBox,
		TestFlag:     testFlag,
	}
	return r.queue.Enqueue(payload)
}

// QueueLen reports the current queue depth.
func (r *Router) QueueLen() int { return r.queue.Len() }

// History exposes the bounded RoutingResult history for status APIs.
func (r *Router) History() *History { return r.history }

func (r *Router) processLoop() {
	defer r.wg.Done()
	for {
		payload, ok := r.queue.Pop(r.stop)
		if !ok {
			return
		}
		r.dispatch(payload)
	}
}

func (r *Router) dispatch(payload model.AlarmPayload) {
	started := time.Now()

	configs, err := r.configs(context.Background())
	if err != nil {
		r.log.Errorf("alarm %s: config snapshot failed: %v", payload.AlarmID, err)
		return
	}

	var futures []*workerpool.Future[DeliveryResult]
	var submitted []model.AlarmConfig
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		ch, ok := r.channels[cfg.Method]
		if !ok {
			continue
		}
		cfg := cfg
		fut, err := workerpool.Submit(r.pool, func() (DeliveryResult, error) {
			return r.deliverOne(ch, cfg, payload), nil
		})
		if err != nil {
			r.log.Warnf("alarm %s: channel %s dispatch rejected by pool: %v", payload.AlarmID, cfg.ID, err)
			continue
		}
		futures = append(futures, fut)
		submitted = append(submitted, cfg)
	}

	result := RoutingResult{AlarmID: payload.AlarmID}
	for i, fut := range futures {
		dr, _ := fut.Wait(nil)
		result.PerChannel = append(result.PerChannel, dr)
		if dr.Success {
			result.SuccessCount++
		} else {
			result.FailCount++
		}
		_ = submitted[i]
	}
	result.TotalElapsed = time.Since(started)
	r.history.Record(result)

	r.mirrorToNATS(payload)
}

func (r *Router) deliverOne(ch Channel, cfg model.AlarmConfig, payload model.AlarmPayload) DeliveryResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.deadline)
	defer cancel()

	err := ch.Send(ctx, cfg, payload)
	elapsed := time.Since(start)

	if err == nil {
		return DeliveryResult{ConfigID: cfg.ID, Method: cfg.Method, Success: true, Elapsed: elapsed}
	}

	reason := err.Error()
	if ctx.Err() == context.DeadlineExceeded {
		reason = "timeout"
	}
	return DeliveryResult{ConfigID: cfg.ID, Method: cfg.Method, Success: false, Reason: reason, Elapsed: elapsed}
}

// mirrorToNATS optionally republishes the alarm for external subscribers,
// retrying with linear backoff (i*100ms) and swallowing
// eventual failure — the mirror is best-effort, never load-bearing.
func (r *Router) mirrorToNATS(payload model.AlarmPayload) {
	if r.nc == nil {
		return
	}
	data, err := json.Marshal(ToWire(payload))
	if err != nil {
		return
	}

	for i := 0; i <= r.natsRetries; i++ {
		if err = r.nc.Publish(r.natsSubject, data); err == nil {
			return
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	r.log.Warnf("alarm %s: nats mirror publish failed after %d retries: %v", payload.AlarmID, r.natsRetries, err)
}
