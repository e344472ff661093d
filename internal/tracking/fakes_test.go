package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescuelink/backend/internal/models"
	"github.com/rescuelink/backend/internal/repository"
)

type memAmbulances struct {
	mu        sync.Mutex
	order     []uuid.UUID
	items     map[uuid.UUID]models.Ambulance
	locations []models.LocationRecord
}

func newMemAmbulances(list ...models.Ambulance) *memAmbulances {
	m := &memAmbulances{items: make(map[uuid.UUID]models.Ambulance)}
	for _, a := range list {
		m.order = append(m.order, a.ID)
		m.items[a.ID] = a
	}
	return m
}

func (m *memAmbulances) FindAvailable(_ context.Context, vehicleType string) ([]*models.Ambulance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ambulance
	for _, id := range m.order {
		a := m.items[id]
		if a.Status != models.AmbulanceAvailable {
			continue
		}
		if vehicleType != "" && a.VehicleType != vehicleType {
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

func (m *memAmbulances) GetByID(_ context.Context, id uuid.UUID) (*models.Ambulance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (m *memAmbulances) Update(_ context.Context, a *models.Ambulance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return repository.ErrNotFound
	}
	m.items[a.ID] = *a
	return nil
}

func (m *memAmbulances) CreateLocationRecord(_ context.Context, rec *models.LocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, *rec)
	return nil
}

func (m *memAmbulances) get(id uuid.UUID) models.Ambulance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

type memDispatches struct {
	mu    sync.Mutex
	items map[uuid.UUID]models.Dispatch
}

func newMemDispatches(list ...models.Dispatch) *memDispatches {
	m := &memDispatches{items: make(map[uuid.UUID]models.Dispatch)}
	for _, d := range list {
		m.items[d.ID] = d
	}
	return m
}

func (m *memDispatches) GetByID(_ context.Context, id uuid.UUID) (*models.Dispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (m *memDispatches) Update(_ context.Context, d *models.Dispatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[d.ID] = *d
	return nil
}

func (m *memDispatches) get(id uuid.UUID) models.Dispatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

type recordedEvent struct {
	name    string
	payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) PublishPayload(_ context.Context, name string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{name: name, payload: payload})
	return nil
}

func (p *recordingPublisher) named(name string) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, e := range p.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
