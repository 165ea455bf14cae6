package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps everything in process. Used by simulate-alert and tests.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[int64]User
	alerts        map[int64]PriceAlert
	notifications map[int64]UserNotification
	locks         map[int64]bool
	nextID        int64
	now           func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[int64]User),
		alerts:        make(map[int64]PriceAlert),
		notifications: make(map[int64]UserNotification),
		locks:         make(map[int64]bool),
		now:           time.Now,
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) UpsertUser(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	u := User{ID: m.id(), Email: email, CreatedAt: m.now().UTC()}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) OwnerEmail(_ context.Context, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return "", ErrNotFound
	}
	return u.Email, nil
}

func (m *MemoryStore) CreateAlert(_ context.Context, alert PriceAlert) (PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[alert.UserID]; !ok {
		return PriceAlert{}, ErrNotFound
	}
	alert.ID = m.id()
	alert.ItemID = strings.ToUpper(alert.ItemID)
	alert.CreatedAt = m.now().UTC()
	m.alerts[alert.ID] = alert
	return alert, nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id int64) (PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return PriceAlert{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) ListActiveAlerts(_ context.Context) ([]PriceAlert, error) {
	return m.filterAlerts(func(a PriceAlert) bool { return a.IsActive }), nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, userID int64) ([]PriceAlert, error) {
	return m.filterAlerts(func(a PriceAlert) bool { return userID == 0 || a.UserID == userID }), nil
}

func (m *MemoryStore) filterAlerts(keep func(PriceAlert) bool) []PriceAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PriceAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) DeleteAlert(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(m.alerts, id)
	return nil
}

func (m *MemoryStore) SetAlertActive(_ context.Context, id int64, active bool) error {
	return m.updateAlert(id, func(a *PriceAlert) { a.IsActive = active })
}

func (m *MemoryStore) SaveExpectedPrice(_ context.Context, alertID int64, price decimal.Decimal, at time.Time) error {
	return m.updateAlert(alertID, func(a *PriceAlert) {
		a.LastExpectedPrice = &price
		a.LastExpectedAt = &at
	})
}

func (m *MemoryStore) updateAlert(id int64, fn func(*PriceAlert)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	fn(&a)
	m.alerts[id] = a
	return nil
}

func (m *MemoryStore) RecordTrigger(_ context.Context, alertID int64, n UserNotification, at time.Time) (UserNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return UserNotification{}, ErrNotFound
	}
	a.LastTriggeredAt = &at
	m.alerts[alertID] = a

	n.ID = m.id()
	n.CreatedAt = at
	m.notifications[n.ID] = n
	return n, nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID int64, unreadOnly bool, limit int) ([]UserNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UserNotification, 0)
	for _, n := range m.notifications {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.IsRead = true
	m.notifications[id] = n
	return nil
}

// DeleteUser removes a user along with owned alerts and notifications.
func (m *MemoryStore) DeleteUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	delete(m.users, userID)
	for id, a := range m.alerts {
		if a.UserID == userID {
			delete(m.alerts, id)
		}
	}
	for id, n := range m.notifications {
		if n.UserID == userID {
			delete(m.notifications, id)
		}
	}
	return nil
}

// TryAdvisoryLock emulates a non-reentrant session lock.
func (m *MemoryStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	return func() {
		m.mu.Lock()
		delete(m.locks, key)
		m.mu.Unlock()
	}, true, nil
}

var (
	_ EngineStore    = (*MemoryStore)(nil)
	_ AdminStore     = (*MemoryStore)(nil)
	_ AdvisoryLocker = (*MemoryStore)(nil)
)
