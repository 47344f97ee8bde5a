package store

import "context"

// Query produces a consistent snapshot of some store read.
type Query[T any] func(ctx context.Context) ([]T, error)

// Subscription is a live view over a store query. It emits the initial
// snapshot, then a fresh snapshot after every committed write. Emissions are
// coalesced: a subscriber that falls behind observes the latest committed
// state rather than every intermediate one, and never a partially written
// batch because snapshots run outside any open transaction.
type Subscription[T any] struct {
	updates chan []T
	errs    chan error
	cancel  context.CancelFunc
}

// Updates delivers query snapshots. The channel is closed after Cancel or
// when the subscription context ends.
func (s *Subscription[T]) Updates() <-chan []T {
	return s.updates
}

// Errs delivers at most one terminal query error before the subscription
// shuts down.
func (s *Subscription[T]) Errs() <-chan error {
	return s.errs
}

// Cancel stops the subscription. No emissions happen after it returns the
// channels closed.
func (s *Subscription[T]) Cancel() {
	s.cancel()
}

// Watch subscribes to a store query. The subscription lives until ctx is
// done or Cancel is called.
func Watch[T any](ctx context.Context, s *Store, q Query[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		updates: make(chan []T),
		errs:    make(chan error, 1),
		cancel:  cancel,
	}

	signal, remove := s.addWatcher()

	go func() {
		defer close(sub.updates)
		defer remove()

		emit := func() bool {
			snapshot, err := q(ctx)
			if err != nil {
				if ctx.Err() == nil {
					sub.errs <- err
				}
				return false
			}
			select {
			case sub.updates <- snapshot:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
				if !emit() {
					return
				}
			}
		}
	}()

	return sub
}

// addWatcher registers a change-signal channel and returns it together with
// its removal func.
func (s *Store) addWatcher() (chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// notifyChanged signals every watcher that a write committed. Sends are
// non-blocking; the buffered channel coalesces bursts of writes.
func (s *Store) notifyChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
