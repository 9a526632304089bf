// Package notify forwards tracker change events to external webhooks
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"

	"github.com/umputun/jobtrack/app/tracker"
)

// Sender delivers a text message to a destination, implemented by notify.Webhook
type Sender interface {
	Send(ctx context.Context, destination, text string) error
}

// Params defines webhook forwarder settings
type Params struct {
	URLs        []string
	Timeout     time.Duration
	Headers     []string // in "name:value" format
	Attempts    int
	Duration    time.Duration
	Factor      float64
	Concurrency int
	QueueSize   int
}

// Webhook forwards change events to all configured URLs. Notify only enqueues the event,
// delivery happens in Run, so the tracker never waits on the network.
type Webhook struct {
	Params
	sender Sender
	queue  chan tracker.Event
	now    func() time.Time
}

// payload is the JSON body posted to webhooks
type payload struct {
	JobID  string    `json:"jobId"`
	Status *string   `json:"status"`
	Label  string    `json:"label,omitempty"`
	Time   time.Time `json:"time"`
}

// NewWebhook makes a forwarder. Returns nil if no urls set.
func NewWebhook(p Params) *Webhook {
	if len(p.URLs) == 0 {
		return nil
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Duration <= 0 {
		p.Duration = time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}
	if p.QueueSize <= 0 {
		p.QueueSize = 100
	}
	headers := append([]string{"Content-Type:application/json"}, p.Headers...)
	return &Webhook{
		Params: p,
		sender: notify.NewWebhook(notify.WebhookParams{Timeout: p.Timeout, Headers: headers}),
		queue:  make(chan tracker.Event, p.QueueSize),
		now:    time.Now,
	}
}

// Notify enqueues the event, drops it if the queue is full
func (w *Webhook) Notify(ev tracker.Event) {
	select {
	case w.queue <- ev:
	default:
		log.Printf("[WARN] webhook queue is full, event for %s dropped", ev.JobID)
	}
}

// Run delivers queued events until ctx is canceled. Events left in the queue on shutdown
// are not delivered. Blocks until in-flight deliveries are done.
func (w *Webhook) Run(ctx context.Context) {
	log.Printf("[INFO] webhook forwarder started for %d url(s)", len(w.URLs))
	defer log.Printf("[INFO] webhook forwarder stopped")
	gr := syncs.NewSizedGroup(w.Concurrency)
	defer gr.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.queue:
			for _, u := range w.URLs {
				gr.Go(func(context.Context) {
					if err := w.deliver(ctx, u, ev); err != nil {
						log.Printf("[WARN] failed to deliver event for %s to %s: %v", ev.JobID, u, err)
					}
				})
			}
		}
	}
}

// deliver sends a single event to a single url with retries
func (w *Webhook) deliver(ctx context.Context, url string, ev tracker.Event) error {
	msg := payload{JobID: ev.JobID, Status: ev.Status, Time: w.now().UTC()}
	if ev.Status != nil {
		msg.Label = tracker.StatusInfo(*ev.Status).Label
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	rptr := repeater.New(&strategy.Backoff{Repeats: w.Attempts, Duration: w.Duration, Factor: w.Factor, Jitter: true})
	err = rptr.Do(ctx, func() error {
		return w.sender.Send(ctx, url, string(body))
	})
	if err != nil {
		return fmt.Errorf("webhook %s: %w", url, err)
	}
	log.Printf("[DEBUG] event for %s delivered to %s", ev.JobID, url)
	return nil
}
