package heartbeat

import (
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"bastionzero.com/bzsignalr/logger"
)

const DefaultInterval = 500 * time.Millisecond

type Heartbeat interface {
	OnHeartbeatUpdate(now time.Time, elapsed time.Duration)
}

type subscription struct {
	heartbeat Heartbeat
	removed   atomic.Bool
}

// Manager ticks every subscribed Heartbeat with the current time and the time elapsed
// since the previous round
type Manager struct {
	tmb      tomb.Tomb
	logger   *logger.Logger
	interval time.Duration
	started  atomic.Bool

	lock          sync.Mutex
	subscriptions []*subscription
	lastUpdate    time.Time
}

func New(logger *logger.Logger, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Manager{
		logger:   logger,
		interval: interval,
	}
}

func (m *Manager) Start() {
	if m.started.Swap(true) {
		return
	}

	m.logger.Infof("Starting heartbeat every %s", m.interval)
	m.tmb.Go(func() error {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.tmb.Dying():
				m.logger.Info("Heartbeat stopped")
				return nil
			case now := <-ticker.C:
				m.Update(now)
			}
		}
	})
}

// Close stops the ticker and waits for an in-progress round to finish
func (m *Manager) Close() {
	m.tmb.Kill(nil)
	if m.started.Load() {
		m.tmb.Wait()
	}
}

func (m *Manager) Subscribe(heartbeat Heartbeat) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, s := range m.subscriptions {
		if s.heartbeat == heartbeat {
			return
		}
	}

	m.subscriptions = append(m.subscriptions, &subscription{heartbeat: heartbeat})
}

// Unsubscribe guarantees no new OnHeartbeatUpdate call starts for heartbeat once it returns
func (m *Manager) Unsubscribe(heartbeat Heartbeat) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for i, s := range m.subscriptions {
		if s.heartbeat == heartbeat {
			s.removed.Store(true)
			m.subscriptions = append(m.subscriptions[:i:i], m.subscriptions[i+1:]...)
			return
		}
	}
}

func (m *Manager) Count() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.subscriptions)
}

// Update runs a single dispatch round
func (m *Manager) Update(now time.Time) {
	m.lock.Lock()
	var elapsed time.Duration
	if !m.lastUpdate.IsZero() {
		elapsed = now.Sub(m.lastUpdate)
	}
	m.lastUpdate = now

	round := make([]*subscription, len(m.subscriptions))
	copy(round, m.subscriptions)
	m.lock.Unlock()

	for _, s := range round {
		if s.removed.Load() {
			continue
		}
		s.heartbeat.OnHeartbeatUpdate(now, elapsed)
	}
}
