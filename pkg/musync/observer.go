package musync

import (
	"sync"

	"github.com/muisto-app/muisto/pkg/mutypes"
)

// status delivery for UI layers. channel is buffered and sends never block the
// engine - a slow subscriber just misses intermediate statuses, the latest one
// always arrives eventually
type Subscription struct {
	C chan mutypes.SyncStatus

	engine *Engine
	once   sync.Once
}

// closing twice (or after engine shutdown) is a no-op
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.engine.mu.Lock()
		delete(s.engine.subs, s)
		s.engine.mu.Unlock()

		close(s.C)
	})
}

func (e *Engine) Subscribe() *Subscription {
	sub := &Subscription{
		C:      make(chan mutypes.SyncStatus, 16),
		engine: e,
	}

	e.mu.Lock()
	e.subs[sub] = struct{}{}
	e.mu.Unlock()

	return sub
}

func (e *Engine) notifyStatus() {
	status, err := e.OverallStatus()
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for sub := range e.subs {
		select {
		case sub.C <- status:
		default: // subscriber's buffer full, they'll catch the next one
		}
	}
}
