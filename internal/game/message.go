package game

import "encoding/json"

// Action tags every game command and every server push.
type Action string

const (
	ActionCreatePlayer       Action = "create-player"
	ActionCreateLab          Action = "create-lab"
	ActionCreateModel        Action = "create-model"
	ActionRetrieveLab        Action = "retrieve-lab"
	ActionRetrievePlayerData Action = "retrieve-player-data"
	ActionUpdateFunds        Action = "update-funds"
)

// Envelope is one inbound client frame. Older clients sent the tag
// under "command", so both keys are accepted.
type Envelope struct {
	Action  Action          `json:"action"`
	Command Action          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// Tag returns whichever action key the client filled in.
func (e Envelope) Tag() Action {
	if e.Action != "" {
		return e.Action
	}
	return e.Command
}

// Response is one outbound frame, success or failure. Error responses
// carry the action that failed so the client can correlate.
type Response struct {
	Action  Action `json:"action"`
	Payload any    `json:"payload"`
	Error   string `json:"error,omitempty"`
}

const (
	UpdateIncrement = "increment"
	UpdateDecrement = "decrement"
)

// FundsUpdate pushes the player's new authoritative balance after any
// server-side funds change.
type FundsUpdate struct {
	Funds      float64 `json:"funds"`
	UpdateType string  `json:"update_type"`
}

// GlobalState is broadcast to every connection whenever the connected
// population changes.
type GlobalState struct {
	ConnectedPlayers int `json:"n_connected_players"`
}
