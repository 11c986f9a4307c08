package game

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"aiventure/internal/model"
)

// Store is the persistence contract the session core depends on.
// *store.Postgres satisfies it in production; tests supply an
// in-memory implementation.
type Store interface {
	CreatePlayer(ctx context.Context, userID, name, avatar string, funds float64) (model.Player, error)
	GetPlayerByUser(ctx context.Context, userID string) (model.PlayerData, error)
	GetPlayerByID(ctx context.Context, playerID string) (model.PlayerData, error)
	IncrementFunds(ctx context.Context, playerID string, amount float64) (float64, error)
	DecrementFunds(ctx context.Context, playerID string, amount float64) (float64, error)
	CreateLab(ctx context.Context, playerID, name, location string, cost float64) (model.Lab, float64, error)
	GetLabByID(ctx context.Context, labID string) (model.Lab, error)
	UpdateLabValuation(ctx context.Context, labID string, valuation float64) error
	UpdateLabIncome(ctx context.Context, labID string, income float64) error
	CreateModel(ctx context.Context, playerID, labID, name string, categoryID int, cost float64) (model.AIModel, float64, error)
	GetModelByName(ctx context.Context, name string) (model.AIModel, error)
	InvestmentsForPlayer(ctx context.Context, playerID string) ([]model.Investment, error)
	TopLabsByValuation(ctx context.Context, limit int) ([]model.Lab, error)
}

// Metrics is the slice of instrumentation the core emits. A nil-safe
// no-op is used when the caller wires none.
type Metrics interface {
	CommandOK(action string)
	CommandError(action string)
	IncomeTick()
	IncomeCredited(total float64)
}

type nopMetrics struct{}

func (nopMetrics) CommandOK(string)       {}
func (nopMetrics) CommandError(string)    {}
func (nopMetrics) IncomeTick()            {}
func (nopMetrics) IncomeCredited(float64) {}

// Client-visible failure reasons. These are stable protocol strings;
// anything else is reported as the generic internal error.
const (
	errPlayerCreateFailed = "Failed to create player"
	errPlayerNotFound     = "Player not found"
	errLabNotFound        = "Lab not found"
	errInsufficientFunds  = "Insufficient funds"
	errUnknownLocation    = "Unknown location"
	errUnknownCategory    = "Unknown model category"
	errModelNameTaken     = "Model name already exists"
	errNameRequired       = "Name is required"
	errInternal           = "Internal server error"
)

// Session owns the command lifecycle of one authenticated connection.
// It is driven by a single read loop, so its fields need no locking.
type Session struct {
	user     model.User
	conn     Conn
	registry *Registry
	store    Store
	log      *slog.Logger
	metrics  Metrics

	// playerID is set once the connection resolves its persona, by
	// create-player or retrieve-player-data.
	playerID string
}

func NewSession(user model.User, conn Conn, registry *Registry, store Store, log *slog.Logger, metrics Metrics) *Session {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Session{
		user:     user,
		conn:     conn,
		registry: registry,
		store:    store,
		log:      log.With("user_id", user.ID),
		metrics:  metrics,
	}
}

// HandleRaw processes one inbound frame. Unparseable frames and
// unknown actions are logged and dropped; a panic inside a handler is
// contained to this command and reported as a generic error, so one
// bad command cannot take the connection down.
func (s *Session) HandleRaw(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("unparseable frame", "error", err)
		return
	}
	action := env.Tag()

	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic in command handler", "action", action, "panic", rec)
			s.metrics.CommandError(string(action))
			s.send(Response{Action: action, Payload: map[string]any{}, Error: errInternal})
		}
	}()

	var resp Response
	switch action {
	case ActionCreatePlayer:
		resp = s.handleCreatePlayer(ctx, env.Payload)
	case ActionRetrievePlayerData:
		resp = s.handleRetrievePlayerData(ctx)
	case ActionCreateLab:
		resp = s.handleCreateLab(ctx, env.Payload)
	case ActionCreateModel:
		resp = s.handleCreateModel(ctx, env.Payload)
	case ActionRetrieveLab:
		resp = s.handleRetrieveLab(ctx, env.Payload)
	default:
		s.log.Warn("unknown action", "action", action)
		return
	}

	if resp.Error != "" {
		s.metrics.CommandError(string(action))
	} else {
		s.metrics.CommandOK(string(action))
	}
	s.send(resp)
}

func (s *Session) handleCreatePlayer(ctx context.Context, raw json.RawMessage) Response {
	var p struct {
		Name   string `json:"name"`
		Avatar string `json:"avatar"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || strings.TrimSpace(p.Name) == "" {
		return errResponse(ActionCreatePlayer, errNameRequired)
	}

	player, err := s.store.CreatePlayer(ctx, s.user.ID, strings.TrimSpace(p.Name), p.Avatar, BasePlayerFunds)
	if errors.Is(err, model.ErrConflict) {
		return errResponse(ActionCreatePlayer, errPlayerCreateFailed)
	}
	if err != nil {
		return s.internalError(ActionCreatePlayer, err)
	}

	s.bind(player.ID)
	data := model.PlayerData{
		Player:      player,
		Labs:        []model.Lab{},
		Investments: []model.Investment{},
	}
	return Response{Action: ActionCreatePlayer, Payload: data}
}

func (s *Session) handleRetrievePlayerData(ctx context.Context) Response {
	var (
		data model.PlayerData
		err  error
	)
	if s.playerID != "" {
		data, err = s.store.GetPlayerByID(ctx, s.playerID)
	} else {
		data, err = s.store.GetPlayerByUser(ctx, s.user.ID)
	}
	if errors.Is(err, model.ErrNotFound) {
		return errResponse(ActionRetrievePlayerData, errPlayerNotFound)
	}
	if err != nil {
		return s.internalError(ActionRetrievePlayerData, err)
	}

	s.bind(data.ID)
	return Response{Action: ActionRetrievePlayerData, Payload: data}
}

func (s *Session) handleCreateLab(ctx context.Context, raw json.RawMessage) Response {
	var p struct {
		Name     string `json:"name"`
		Location string `json:"location"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || strings.TrimSpace(p.Name) == "" {
		return errResponse(ActionCreateLab, errNameRequired)
	}
	if s.playerID == "" {
		return errResponse(ActionCreateLab, errPlayerNotFound)
	}
	if _, ok := LocationByKey(p.Location); !ok {
		return errResponse(ActionCreateLab, errUnknownLocation)
	}

	// Funds are checked against fresh persisted state, never against
	// anything cached on the session.
	fresh, err := s.store.GetPlayerByID(ctx, s.playerID)
	if errors.Is(err, model.ErrNotFound) {
		return errResponse(ActionCreateLab, errPlayerNotFound)
	}
	if err != nil {
		return s.internalError(ActionCreateLab, err)
	}
	if fresh.Funds < CreateLabCost {
		return errResponse(ActionCreateLab, errInsufficientFunds)
	}

	lab, funds, err := s.store.CreateLab(ctx, s.playerID, strings.TrimSpace(p.Name), p.Location, CreateLabCost)
	switch {
	case errors.Is(err, model.ErrInsufficientFunds):
		return errResponse(ActionCreateLab, errInsufficientFunds)
	case errors.Is(err, model.ErrNotFound):
		return errResponse(ActionCreateLab, errPlayerNotFound)
	case err != nil:
		return s.internalError(ActionCreateLab, err)
	}

	s.send(Response{Action: ActionUpdateFunds, Payload: FundsUpdate{Funds: funds, UpdateType: UpdateDecrement}})
	return Response{Action: ActionCreateLab, Payload: lab}
}

func (s *Session) handleCreateModel(ctx context.Context, raw json.RawMessage) Response {
	var p struct {
		Name     string `json:"name"`
		Category string `json:"category"`
		LabID    string `json:"lab_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || strings.TrimSpace(p.Name) == "" {
		return errResponse(ActionCreateModel, errNameRequired)
	}
	if s.playerID == "" {
		return errResponse(ActionCreateModel, errPlayerNotFound)
	}
	cat, ok := ModelCategoryByKey(p.Category)
	if !ok {
		return errResponse(ActionCreateModel, errUnknownCategory)
	}

	fresh, err := s.store.GetPlayerByID(ctx, s.playerID)
	if errors.Is(err, model.ErrNotFound) {
		return errResponse(ActionCreateModel, errPlayerNotFound)
	}
	if err != nil {
		return s.internalError(ActionCreateModel, err)
	}
	if !ownsLab(fresh, p.LabID) {
		return errResponse(ActionCreateModel, errLabNotFound)
	}
	if fresh.Funds < CreateModelCost {
		return errResponse(ActionCreateModel, errInsufficientFunds)
	}

	name := strings.TrimSpace(p.Name)
	if _, err := s.store.GetModelByName(ctx, name); err == nil {
		return errResponse(ActionCreateModel, errModelNameTaken)
	} else if !errors.Is(err, model.ErrNotFound) {
		return s.internalError(ActionCreateModel, err)
	}

	created, funds, err := s.store.CreateModel(ctx, s.playerID, p.LabID, name, cat.ID, CreateModelCost)
	switch {
	case errors.Is(err, model.ErrConflict):
		return errResponse(ActionCreateModel, errModelNameTaken)
	case errors.Is(err, model.ErrInsufficientFunds):
		return errResponse(ActionCreateModel, errInsufficientFunds)
	case errors.Is(err, model.ErrNotFound):
		return errResponse(ActionCreateModel, errLabNotFound)
	case err != nil:
		return s.internalError(ActionCreateModel, err)
	}

	s.send(Response{Action: ActionUpdateFunds, Payload: FundsUpdate{Funds: funds, UpdateType: UpdateDecrement}})

	// The new model changes the lab's derived state; recompute from the
	// committed composition and push the refreshed aggregate.
	lab, err := s.refreshLabEconomy(ctx, p.LabID)
	if err != nil {
		s.log.Error("refresh lab after model create", "lab_id", p.LabID, "error", err)
	} else {
		s.send(Response{Action: ActionRetrieveLab, Payload: lab})
	}
	return Response{Action: ActionCreateModel, Payload: created}
}

func (s *Session) handleRetrieveLab(ctx context.Context, raw json.RawMessage) Response {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return errResponse(ActionRetrieveLab, errLabNotFound)
	}
	lab, err := s.store.GetLabByID(ctx, p.ID)
	if errors.Is(err, model.ErrNotFound) {
		return errResponse(ActionRetrieveLab, errLabNotFound)
	}
	if err != nil {
		return s.internalError(ActionRetrieveLab, err)
	}
	return Response{Action: ActionRetrieveLab, Payload: lab}
}

// refreshLabEconomy recomputes and persists the lab's valuation and
// income from its committed composition, returning the fresh aggregate.
func (s *Session) refreshLabEconomy(ctx context.Context, labID string) (model.Lab, error) {
	lab, err := s.store.GetLabByID(ctx, labID)
	if err != nil {
		return model.Lab{}, err
	}
	lab.Valuation = RecomputeValuation(lab)
	lab.Income = RecomputeIncome(lab)
	if err := s.store.UpdateLabValuation(ctx, labID, lab.Valuation); err != nil {
		return model.Lab{}, err
	}
	if err := s.store.UpdateLabIncome(ctx, labID, lab.Income); err != nil {
		return model.Lab{}, err
	}
	return lab, nil
}

func (s *Session) bind(playerID string) {
	if s.playerID != "" {
		return
	}
	if s.registry.BindPlayer(s.user.ID, playerID) {
		s.playerID = playerID
	}
}

func (s *Session) send(resp Response) {
	if resp.Payload == nil {
		resp.Payload = map[string]any{}
	}
	if err := s.conn.WriteJSON(resp); err != nil {
		s.log.Warn("write response", "action", resp.Action, "error", err)
	}
}

func (s *Session) internalError(action Action, err error) Response {
	s.log.Error("command failed", "action", action, "error", err)
	return errResponse(action, errInternal)
}

func errResponse(action Action, msg string) Response {
	return Response{Action: action, Payload: map[string]any{}, Error: msg}
}

func ownsLab(data model.PlayerData, labID string) bool {
	for _, lab := range data.Labs {
		if lab.ID == labID {
			return true
		}
	}
	return false
}
