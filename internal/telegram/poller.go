package telegram

import (
	"log/slog"
	"sync"
	"time"
)

const (
	maxConsecutivePollingErrors = 5
	errorPauseDuration          = 30 * time.Second
)

// Poller implements long-polling for receiving Telegram updates. Each
// received update is handed to the dispatch function on its own goroutine
// so a slow handler never stalls the polling loop.
type Poller struct {
	client   *Client
	dispatch func(*Update)
	logger   *slog.Logger
	timeout  int
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
}

// NewPoller creates a new Poller. timeout is the long-poll timeout in seconds.
func NewPoller(client *Client, dispatch func(*Update), logger *slog.Logger, timeout int) *Poller {
	return &Poller{
		client:   client,
		dispatch: dispatch,
		logger:   logger,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop in a goroutine.
func (p *Poller) Start() {
	go p.loop()
}

// Stop signals the polling loop to stop, then waits for it and for any
// in-flight dispatches to finish. Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done
	p.inflight.Wait()
}

func (p *Poller) loop() {
	defer close(p.done)

	var offset int
	var consecutiveErrors int

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		updates, err := p.client.GetUpdates(p.ctx(), GetUpdatesRequest{
			Offset:         offset,
			Timeout:        p.timeout,
			AllowedUpdates: []string{"message", "edited_message", "channel_post"},
		})
		if err != nil {
			consecutiveErrors++
			p.logger.Error("polling getUpdates failed",
				"error", err,
				"consecutive_errors", consecutiveErrors,
			)

			if consecutiveErrors >= maxConsecutivePollingErrors {
				p.logger.Warn("polling paused after consecutive errors",
					"pause", errorPauseDuration,
				)
				select {
				case <-p.stopCh:
					return
				case <-time.After(errorPauseDuration):
				}
				consecutiveErrors = 0
			}
			continue
		}

		consecutiveErrors = 0

		for _, update := range updates {
			offset = update.UpdateID + 1
			u := update
			p.inflight.Add(1)
			go func() {
				defer p.inflight.Done()
				p.dispatch(&u)
			}()
		}
	}
}

// ctx returns a context cancelled when the poller stops, so the long-poll
// HTTP call unblocks promptly on shutdown.
func (p *Poller) ctx() contextWrapper {
	return contextWrapper{stopCh: p.stopCh}
}

// contextWrapper adapts a stop channel to a context.Context for the HTTP client.
type contextWrapper struct {
	stopCh <-chan struct{}
}

func (c contextWrapper) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c contextWrapper) Done() <-chan struct{}       { return c.stopCh }

func (c contextWrapper) Err() error {
	select {
	case <-c.stopCh:
		return errPollerStopped
	default:
		return nil
	}
}

func (c contextWrapper) Value(any) any { return nil }

var errPollerStopped = pollerStoppedError{}

type pollerStoppedError struct{}

func (pollerStoppedError) Error() string { return "poller stopped" }
