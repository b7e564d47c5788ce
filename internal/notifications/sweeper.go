package notifications

import (
	"context"
	"log"
	"time"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/orders"
)

// DelayPublisher escalates one delayed order.
type DelayPublisher interface {
	PublishDelayedOrderNotification(ctx context.Context, o orders.Order) error
}

// Sweeper periodically escalates orders that stayed non-terminal past the
// delay threshold. Each order is escalated once until terminal cleanup
// forgets it.
type Sweeper struct {
	orders      OrderLister
	escalations *Escalations
	publisher   DelayPublisher
	threshold   time.Duration
	interval    time.Duration
	now         func() time.Time
}

func NewSweeper(orderLister OrderLister, store Store, publisher DelayPublisher, threshold, interval time.Duration) *Sweeper {
	return &Sweeper{
		orders:      orderLister,
		escalations: NewEscalations(store),
		publisher:   publisher,
		threshold:   threshold,
		interval:    interval,
		now:         time.Now,
	}
}

// RunOnce performs a single sweep and returns how many orders it escalated.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	delayed, err := s.orders.ListDelayed(ctx, orders.DelayedFilter{CreatedBefore: s.now().Add(-s.threshold)})
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, o := range delayed {
		done, err := s.escalations.Escalated(ctx, o.ID)
		if err != nil {
			return escalated, err
		}
		if done {
			continue
		}
		if err := s.publisher.PublishDelayedOrderNotification(ctx, o); err != nil {
			log.Printf("WARNING: sweeper: escalation of order %s incomplete: %v", o.ID, err)
		}
		if err := s.escalations.MarkEscalated(ctx, o.ID); err != nil {
			log.Printf("WARNING: sweeper: failed to mark order %s escalated: %v", o.ID, err)
		}
		escalated++
	}
	return escalated, nil
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		n, err := s.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("sweeper: sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("sweeper: escalated %d delayed orders", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
