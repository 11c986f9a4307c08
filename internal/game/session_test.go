package game

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"aiventure/internal/model"
)

func newTestSession(t *testing.T, store Store) (*Session, *fakeConn, *Registry) {
	t.Helper()
	user := model.User{ID: "user-1", Email: "ada@example.com"}
	conn := &fakeConn{}
	registry := NewRegistry(testLogger())
	registry.Connect(user.ID, conn)
	return NewSession(user, conn, registry, store, testLogger(), nil), conn, registry
}

func sendCommand(t *testing.T, s *Session, action Action, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame, err := json.Marshal(Envelope{Action: action, Payload: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	s.HandleRaw(context.Background(), frame)
}

func mustResponse(t *testing.T, conn *fakeConn, action Action) Response {
	t.Helper()
	resp, ok := conn.lastByAction(action)
	if !ok {
		t.Fatalf("no response for action %q", action)
	}
	return resp
}

func TestCreatePlayer(t *testing.T) {
	store := newMemStore()
	s, conn, registry := newTestSession(t, store)

	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada", "avatar": "a.png"})

	resp := mustResponse(t, conn, ActionCreatePlayer)
	if resp.Error != "" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
	data, ok := resp.Payload.(model.PlayerData)
	if !ok {
		t.Fatalf("payload type %T", resp.Payload)
	}
	if data.Funds != BasePlayerFunds {
		t.Fatalf("funds = %v, want %v", data.Funds, BasePlayerFunds)
	}
	if len(data.Labs) != 0 || len(data.Investments) != 0 {
		t.Fatalf("new player has labs or investments: %+v", data)
	}
	if len(registry.Bindings()) != 1 {
		t.Fatalf("session did not bind its player")
	}
}

func TestCreatePlayerDuplicate(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)

	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada"})
	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada Again"})

	resp := mustResponse(t, conn, ActionCreatePlayer)
	if resp.Error != "Failed to create player" {
		t.Fatalf("error = %q, want duplicate failure", resp.Error)
	}
}

func TestRetrievePlayerDataNotFound(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)

	sendCommand(t, s, ActionRetrievePlayerData, map[string]string{})

	resp := mustResponse(t, conn, ActionRetrievePlayerData)
	if resp.Error != "Player not found" {
		t.Fatalf("error = %q, want player not found", resp.Error)
	}
}

func TestRetrievePlayerDataBinds(t *testing.T) {
	store := newMemStore()
	if _, err := store.CreatePlayer(context.Background(), "user-1", "Ada", "", BasePlayerFunds); err != nil {
		t.Fatalf("seed player: %v", err)
	}
	s, conn, registry := newTestSession(t, store)

	sendCommand(t, s, ActionRetrievePlayerData, map[string]string{})

	resp := mustResponse(t, conn, ActionRetrievePlayerData)
	if resp.Error != "" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
	if len(registry.Bindings()) != 1 {
		t.Fatalf("retrieve did not bind the player")
	}
}

func TestCreateLab(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)
	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada"})

	sendCommand(t, s, ActionCreateLab, map[string]string{"name": "Lab Zero", "location": "us"})

	resp := mustResponse(t, conn, ActionCreateLab)
	if resp.Error != "" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
	lab, ok := resp.Payload.(model.Lab)
	if !ok {
		t.Fatalf("payload type %T", resp.Payload)
	}
	if lab.Valuation != 0 || lab.Income != 0 {
		t.Fatalf("fresh lab has derived state: %+v", lab)
	}
	if len(lab.Investors) != 1 || lab.Investors[0].Part != 1.0 {
		t.Fatalf("founder share = %+v, want single 1.0", lab.Investors)
	}

	funds := mustResponse(t, conn, ActionUpdateFunds)
	fu, ok := funds.Payload.(FundsUpdate)
	if !ok {
		t.Fatalf("funds payload type %T", funds.Payload)
	}
	if fu.UpdateType != UpdateDecrement {
		t.Fatalf("update_type = %q, want decrement", fu.UpdateType)
	}
	if want := BasePlayerFunds - CreateLabCost; fu.Funds != want {
		t.Fatalf("funds = %v, want %v", fu.Funds, want)
	}
}

func TestCreateLabValidation(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)

	// No player bound yet.
	sendCommand(t, s, ActionCreateLab, map[string]string{"name": "Lab Zero", "location": "us"})
	if resp := mustResponse(t, conn, ActionCreateLab); resp.Error != "Player not found" {
		t.Fatalf("error = %q, want player not found", resp.Error)
	}

	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada"})

	sendCommand(t, s, ActionCreateLab, map[string]string{"name": "Lab Zero", "location": "moon"})
	if resp := mustResponse(t, conn, ActionCreateLab); resp.Error != "Unknown location" {
		t.Fatalf("error = %q, want unknown location", resp.Error)
	}

	sendCommand(t, s, ActionCreateLab, map[string]string{"name": "   ", "location": "us"})
	if resp := mustResponse(t, conn, ActionCreateLab); resp.Error != "Name is required" {
		t.Fatalf("error = %q, want name required", resp.Error)
	}
}

func TestCreateLabInsufficientFunds(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)
	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada"})

	// Drain the balance below the lab cost.
	playerID := store.byUser["user-1"]
	if _, err := store.DecrementFunds(context.Background(), playerID, BasePlayerFunds-CreateLabCost+1); err != nil {
		t.Fatalf("drain funds: %v", err)
	}

	sendCommand(t, s, ActionCreateLab, map[string]string{"name": "Lab Zero", "location": "us"})
	if resp := mustResponse(t, conn, ActionCreateLab); resp.Error != "Insufficient funds" {
		t.Fatalf("error = %q, want insufficient funds", resp.Error)
	}
}

func TestCreateModel(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)
	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada"})
	sendCommand(t, s, ActionCreateLab, map[string]string{"name": "Lab Zero", "location": "us"})
	lab := mustResponse(t, conn, ActionCreateLab).Payload.(model.Lab)

	sendCommand(t, s, ActionCreateModel, map[string]string{
		"name": "gpt-zero", "category": "nlp", "lab_id": lab.ID,
	})

	resp := mustResponse(t, conn, ActionCreateModel)
	if resp.Error != "" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
	created, ok := resp.Payload.(model.AIModel)
	if !ok {
		t.Fatalf("payload type %T", resp.Payload)
	}
	if created.CategoryID != 3 {
		t.Fatalf("category = %d, want 3", created.CategoryID)
	}

	funds := mustResponse(t, conn, ActionUpdateFunds).Payload.(FundsUpdate)
	if want := BasePlayerFunds - CreateLabCost - CreateModelCost; funds.Funds != want {
		t.Fatalf("funds = %v, want %v", funds.Funds, want)
	}

	// The refreshed lab aggregate carries the recomputed economy.
	refreshed := mustResponse(t, conn, ActionRetrieveLab).Payload.(model.Lab)
	if want := 1.05 * ModelValuation; refreshed.Valuation != want {
		t.Fatalf("valuation = %v, want %v", refreshed.Valuation, want)
	}
	if want := 1.05 * ModelIncome; refreshed.Income != want {
		t.Fatalf("income = %v, want %v", refreshed.Income, want)
	}

	// Persisted, not just pushed.
	stored, err := store.GetLabByID(context.Background(), lab.ID)
	if err != nil {
		t.Fatalf("get lab: %v", err)
	}
	if stored.Valuation != refreshed.Valuation || stored.Income != refreshed.Income {
		t.Fatalf("stored economy %+v differs from pushed %+v", stored, refreshed)
	}
}

func TestCreateModelValidation(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)
	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada"})
	sendCommand(t, s, ActionCreateLab, map[string]string{"name": "Lab Zero", "location": "us"})
	lab := mustResponse(t, conn, ActionCreateLab).Payload.(model.Lab)

	sendCommand(t, s, ActionCreateModel, map[string]string{
		"name": "m1", "category": "quantum", "lab_id": lab.ID,
	})
	if resp := mustResponse(t, conn, ActionCreateModel); resp.Error != "Unknown model category" {
		t.Fatalf("error = %q, want unknown category", resp.Error)
	}

	sendCommand(t, s, ActionCreateModel, map[string]string{
		"name": "m1", "category": "nlp", "lab_id": "lab-nope",
	})
	if resp := mustResponse(t, conn, ActionCreateModel); resp.Error != "Lab not found" {
		t.Fatalf("error = %q, want lab not found", resp.Error)
	}
}

func TestCreateModelDuplicateName(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)
	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada"})
	sendCommand(t, s, ActionCreateLab, map[string]string{"name": "Lab Zero", "location": "us"})
	lab := mustResponse(t, conn, ActionCreateLab).Payload.(model.Lab)

	sendCommand(t, s, ActionCreateModel, map[string]string{"name": "gpt-zero", "category": "nlp", "lab_id": lab.ID})
	sendCommand(t, s, ActionCreateModel, map[string]string{"name": "gpt-zero", "category": "cv", "lab_id": lab.ID})

	if resp := mustResponse(t, conn, ActionCreateModel); resp.Error != "Model name already exists" {
		t.Fatalf("error = %q, want duplicate model name", resp.Error)
	}
	if got := len(store.modelsByKey); got != 1 {
		t.Fatalf("persisted models = %d, want exactly 1", got)
	}
}

func TestCreateModelInsufficientFundsLeavesBalance(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)
	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada"})
	sendCommand(t, s, ActionCreateLab, map[string]string{"name": "Lab Zero", "location": "us"})
	lab := mustResponse(t, conn, ActionCreateLab).Payload.(model.Lab)

	playerID := store.byUser["user-1"]
	remaining := BasePlayerFunds - CreateLabCost
	if _, err := store.DecrementFunds(context.Background(), playerID, remaining-5_000); err != nil {
		t.Fatalf("drain funds: %v", err)
	}

	sendCommand(t, s, ActionCreateModel, map[string]string{"name": "m1", "category": "nlp", "lab_id": lab.ID})
	if resp := mustResponse(t, conn, ActionCreateModel); resp.Error != "Insufficient funds" {
		t.Fatalf("error = %q, want insufficient funds", resp.Error)
	}

	data, err := store.GetPlayerByID(context.Background(), playerID)
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if data.Funds != 5_000 {
		t.Fatalf("funds = %v, want untouched 5000", data.Funds)
	}
}

func TestRetrieveLab(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)
	sendCommand(t, s, ActionCreatePlayer, map[string]string{"name": "Ada"})
	sendCommand(t, s, ActionCreateLab, map[string]string{"name": "Lab Zero", "location": "eu"})
	lab := mustResponse(t, conn, ActionCreateLab).Payload.(model.Lab)

	sendCommand(t, s, ActionRetrieveLab, map[string]string{"id": lab.ID})
	resp := mustResponse(t, conn, ActionRetrieveLab)
	if resp.Error != "" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}

	sendCommand(t, s, ActionRetrieveLab, map[string]string{"id": "lab-nope"})
	if resp := mustResponse(t, conn, ActionRetrieveLab); resp.Error != "Lab not found" {
		t.Fatalf("error = %q, want lab not found", resp.Error)
	}
}

func TestHandleRawIgnoresGarbage(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)
	writes := len(conn.responses())

	s.HandleRaw(context.Background(), []byte("{not json"))
	s.HandleRaw(context.Background(), []byte(`{"action":"do-the-thing","payload":{}}`))

	if got := len(conn.responses()); got != writes {
		t.Fatalf("garbage frames produced %d responses", got-writes)
	}
}

func TestHandleRawAcceptsCommandKey(t *testing.T) {
	store := newMemStore()
	s, conn, _ := newTestSession(t, store)

	frame := fmt.Sprintf(`{"command":%q,"payload":{"name":"Ada"}}`, ActionCreatePlayer)
	s.HandleRaw(context.Background(), []byte(frame))

	resp := mustResponse(t, conn, ActionCreatePlayer)
	if resp.Error != "" {
		t.Fatalf("unexpected error: %q", resp.Error)
	}
}
