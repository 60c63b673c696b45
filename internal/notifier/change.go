package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/storage"
)

// DomainChange is one poll-since-checkpoint result for a domain
type DomainChange struct {
	Domain    string    `json:"domain"`
	Updated   bool      `json:"updated"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangeNotifier diffs latest write timestamps per domain against its
// checkpoints and publishes lightweight refresh hints. It carries no
// dedup logic of its own; it only tells consumers to refetch.
type ChangeNotifier struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	states   storage.AlertStateStorage
	events   storage.EventLogStorage
	interval time.Duration

	mu          sync.Mutex
	checkpoints map[string]time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewChangeNotifier creates a change notifier. js may be nil, in which
// case Poll still works and no hints are published.
func NewChangeNotifier(logger *zap.Logger, js nats.JetStreamContext, states storage.AlertStateStorage, events storage.EventLogStorage, interval time.Duration) (*ChangeNotifier, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if js != nil {
		if err := ensureStream(js, refreshStreamName, refreshSubjects); err != nil {
			return nil, err
		}
	}
	return &ChangeNotifier{
		logger:      logger.Named("change-notifier"),
		js:          js,
		states:      states,
		events:      events,
		interval:    interval,
		checkpoints: make(map[string]time.Time),
		stop:        make(chan struct{}),
	}, nil
}

// Poll compares the latest write timestamp per domain against the
// notifier's checkpoints, advances them, and returns one entry per
// known domain.
func (n *ChangeNotifier) Poll(ctx context.Context) ([]DomainChange, error) {
	latestStates, err := n.states.LatestByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to poll alert state timestamps: %w", err)
	}
	latestEvents, err := n.events.LatestBySource(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to poll event timestamps: %w", err)
	}

	latest := make(map[string]time.Time, len(latestStates)+len(latestEvents))
	for domain, ts := range latestStates {
		latest[domain] = ts
	}
	for domain, ts := range latestEvents {
		if ts.After(latest[domain]) {
			latest[domain] = ts
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	changes := make([]DomainChange, 0, len(latest))
	for domain, ts := range latest {
		checkpoint, seen := n.checkpoints[domain]
		updated := seen && ts.After(checkpoint)
		if !seen || ts.After(checkpoint) {
			n.checkpoints[domain] = ts
		}
		changes = append(changes, DomainChange{
			Domain:    domain,
			Updated:   updated,
			Timestamp: ts,
		})
	}
	return changes, nil
}

// Start runs the poll loop until the context is cancelled or Stop is
// called, publishing a hint for every updated domain.
func (n *ChangeNotifier) Start(ctx context.Context) {
	go n.pollLoop(ctx)
	n.logger.Info("Change notifier started", zap.Duration("interval", n.interval))
}

// Stop stops the poll loop
func (n *ChangeNotifier) Stop() {
	n.stopOnce.Do(func() { close(n.stop) })
}

func (n *ChangeNotifier) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stop:
			return
		case <-ticker.C:
			changes, err := n.Poll(ctx)
			if err != nil {
				n.logger.Error("Change poll failed", zap.Error(err))
				continue
			}
			for _, change := range changes {
				if !change.Updated {
					continue
				}
				n.publishHint(change)
			}
		}
	}
}

func (n *ChangeNotifier) publishHint(change DomainChange) {
	if n.js == nil {
		return
	}
	data, err := json.Marshal(change)
	if err != nil {
		n.logger.Error("Failed to marshal refresh hint", zap.Error(err))
		return
	}
	if _, err := n.js.Publish("refresh."+change.Domain, data); err != nil {
		n.logger.Warn("Failed to publish refresh hint",
			zap.String("domain", change.Domain),
			zap.Error(err))
		return
	}
	n.logger.Debug("Refresh hint published",
		zap.String("domain", change.Domain),
		zap.Time("timestamp", change.Timestamp))
}
