package game

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"aiventure/internal/model"
)

// memStore is an in-memory Store for exercising the session core
// without a database.
type memStore struct {
	mu          sync.Mutex
	nextID      int
	players     map[string]model.Player
	byUser      map[string]string
	labs        map[string]model.Lab
	modelsByKey map[string]model.AIModel
	positions   map[string][]model.Investment

	// incrementErr forces IncrementFunds to fail for a player.
	incrementErr map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		players:      make(map[string]model.Player),
		byUser:       make(map[string]string),
		labs:         make(map[string]model.Lab),
		modelsByKey:  make(map[string]model.AIModel),
		positions:    make(map[string][]model.Investment),
		incrementErr: make(map[string]error),
	}
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memStore) CreatePlayer(_ context.Context, userID, name, avatar string, funds float64) (model.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUser[userID]; ok {
		return model.Player{}, model.ErrConflict
	}
	p := model.Player{ID: m.id("player"), UserID: userID, Name: name, Avatar: avatar, Funds: funds}
	m.players[p.ID] = p
	m.byUser[userID] = p.ID
	return p, nil
}

func (m *memStore) GetPlayerByUser(ctx context.Context, userID string) (model.PlayerData, error) {
	m.mu.Lock()
	playerID, ok := m.byUser[userID]
	m.mu.Unlock()
	if !ok {
		return model.PlayerData{}, model.ErrNotFound
	}
	return m.GetPlayerByID(ctx, playerID)
}

func (m *memStore) GetPlayerByID(_ context.Context, playerID string) (model.PlayerData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playerDataLocked(playerID)
}

func (m *memStore) playerDataLocked(playerID string) (model.PlayerData, error) {
	p, ok := m.players[playerID]
	if !ok {
		return model.PlayerData{}, model.ErrNotFound
	}
	data := model.PlayerData{Player: p, Labs: []model.Lab{}, Investments: []model.Investment{}}
	for _, lab := range m.labs {
		if lab.PlayerID == playerID {
			data.Labs = append(data.Labs, lab)
		}
	}
	data.Investments = m.investmentsLocked(playerID)
	return data, nil
}

func (m *memStore) IncrementFunds(_ context.Context, playerID string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.incrementErr[playerID]; err != nil {
		return 0, err
	}
	p, ok := m.players[playerID]
	if !ok {
		return 0, model.ErrNotFound
	}
	p.Funds += amount
	m.players[playerID] = p
	return p.Funds, nil
}

func (m *memStore) DecrementFunds(_ context.Context, playerID string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrementLocked(playerID, amount)
}

func (m *memStore) decrementLocked(playerID string, amount float64) (float64, error) {
	p, ok := m.players[playerID]
	if !ok {
		return 0, model.ErrNotFound
	}
	if p.Funds < amount {
		return 0, model.ErrInsufficientFunds
	}
	p.Funds -= amount
	m.players[playerID] = p
	return p.Funds, nil
}

func (m *memStore) CreateLab(_ context.Context, playerID, name, location string, cost float64) (model.Lab, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	funds, err := m.decrementLocked(playerID, cost)
	if err != nil {
		return model.Lab{}, 0, err
	}
	lab := model.Lab{
		ID:        m.id("lab"),
		Name:      name,
		Location:  location,
		PlayerID:  playerID,
		Employees: []model.Employee{},
		Models:    []model.AIModel{},
		Investors: []model.Investor{{PlayerID: playerID, Name: m.players[playerID].Name, Part: 1.0}},
	}
	m.labs[lab.ID] = lab
	m.positions[playerID] = append(m.positions[playerID], model.Investment{LabID: lab.ID, Part: 1.0})
	return lab, funds, nil
}

func (m *memStore) GetLabByID(_ context.Context, labID string) (model.Lab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lab, ok := m.labs[labID]
	if !ok {
		return model.Lab{}, model.ErrNotFound
	}
	return lab, nil
}

func (m *memStore) UpdateLabValuation(_ context.Context, labID string, valuation float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lab, ok := m.labs[labID]
	if !ok {
		return model.ErrNotFound
	}
	lab.Valuation = valuation
	m.labs[labID] = lab
	return nil
}

func (m *memStore) UpdateLabIncome(_ context.Context, labID string, income float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lab, ok := m.labs[labID]
	if !ok {
		return model.ErrNotFound
	}
	lab.Income = income
	m.labs[labID] = lab
	return nil
}

func (m *memStore) CreateModel(_ context.Context, playerID, labID, name string, categoryID int, cost float64) (model.AIModel, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.modelsByKey[name]; ok {
		return model.AIModel{}, 0, model.ErrConflict
	}
	lab, ok := m.labs[labID]
	if !ok {
		return model.AIModel{}, 0, model.ErrNotFound
	}
	funds, err := m.decrementLocked(playerID, cost)
	if err != nil {
		return model.AIModel{}, 0, err
	}
	am := model.AIModel{ID: m.id("model"), Name: name, CategoryID: categoryID, LabID: labID}
	m.modelsByKey[name] = am
	lab.Models = append(lab.Models, am)
	m.labs[labID] = lab
	return am, funds, nil
}

func (m *memStore) GetModelByName(_ context.Context, name string) (model.AIModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	am, ok := m.modelsByKey[name]
	if !ok {
		return model.AIModel{}, model.ErrNotFound
	}
	return am, nil
}

func (m *memStore) InvestmentsForPlayer(_ context.Context, playerID string) ([]model.Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.investmentsLocked(playerID), nil
}

func (m *memStore) investmentsLocked(playerID string) []model.Investment {
	out := []model.Investment{}
	for _, pos := range m.positions[playerID] {
		lab := m.labs[pos.LabID]
		out = append(out, model.Investment{
			LabID:     pos.LabID,
			LabName:   lab.Name,
			LabIncome: lab.Income,
			Part:      pos.Part,
		})
	}
	return out
}

func (m *memStore) TopLabsByValuation(_ context.Context, limit int) ([]model.Lab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Lab, 0, len(m.labs))
	for _, lab := range m.labs {
		out = append(out, lab)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Valuation > out[j].Valuation })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeConn records every frame written to it.
type fakeConn struct {
	mu     sync.Mutex
	writes []any
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) responses() []Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []Response{}
	for _, w := range c.writes {
		if resp, ok := w.(Response); ok {
			out = append(out, resp)
		}
	}
	return out
}

func (c *fakeConn) lastByAction(action Action) (Response, bool) {
	var found Response
	ok := false
	for _, resp := range c.responses() {
		if resp.Action == action {
			found = resp
			ok = true
		}
	}
	return found, ok
}

func (c *fakeConn) globalStates() []GlobalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []GlobalState{}
	for _, w := range c.writes {
		if gs, ok := w.(GlobalState); ok {
			out = append(out, gs)
		}
	}
	return out
}
