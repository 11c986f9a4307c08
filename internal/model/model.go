// Package model holds the persisted game entities and the aggregate
// views returned to clients.
package model

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

type Player struct {
	ID     string  `json:"id"`
	UserID string  `json:"-"`
	Name   string  `json:"name"`
	Avatar string  `json:"avatar"`
	Funds  float64 `json:"funds"`
}

// PlayerData is the full aggregate sent over the game session:
// the persona plus its founded labs and investment positions.
type PlayerData struct {
	Player
	Labs        []Lab        `json:"labs"`
	Investments []Investment `json:"investments"`
}

type Lab struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Location  string     `json:"location"`
	Valuation float64    `json:"valuation"`
	Income    float64    `json:"income"`
	PlayerID  string     `json:"player_id"`
	Employees []Employee `json:"employees"`
	Models    []AIModel  `json:"models"`
	Investors []Investor `json:"investors"`
}

type Employee struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Salary    float64 `json:"salary"`
	ImageURL  string  `json:"image_url"`
	RoleID    int     `json:"role_id"`
	QualityID int     `json:"quality_id"`
	LabID     string  `json:"lab_id"`
}

type AIModel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CategoryID int    `json:"category_id"`
	LabID      string `json:"lab_id"`
}

// Investment is one side of the player/lab ownership link: the lab a
// player holds a share in, and the fractional share held.
type Investment struct {
	LabID     string  `json:"lab_id"`
	LabName   string  `json:"lab_name"`
	LabIncome float64 `json:"lab_income"`
	Part      float64 `json:"part"`
}

// Investor is the other side of the link, resolved on lab aggregates.
type Investor struct {
	PlayerID string  `json:"player_id"`
	Name     string  `json:"name"`
	Part     float64 `json:"part"`
}
