// Package store is the persistence access layer. All funds movements
// are expressed as atomic deltas in SQL so a scheduler credit and a
// command debit on the same player can never lose an update.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"aiventure/internal/model"
)

type Postgres struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, log: logger}
}

func (s *Postgres) CreateUser(ctx context.Context, email, passwordHash string) (model.User, error) {
	user := model.User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash}
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, user.ID, user.Email, user.PasswordHash).Scan(&user.CreatedAt)
	if err != nil {
		return model.User{}, translateErr(err)
	}
	return user, nil
}

func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var user model.User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, is_admin, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt)
	if err != nil {
		return model.User{}, translateErr(err)
	}
	return user, nil
}

func (s *Postgres) CreatePlayer(ctx context.Context, userID, name, avatar string, funds float64) (model.Player, error) {
	player := model.Player{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Avatar: avatar,
		Funds:  funds,
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO players (id, user_id, name, avatar, funds)
		VALUES ($1, $2, $3, $4, $5)
	`, player.ID, player.UserID, player.Name, player.Avatar, player.Funds)
	if err != nil {
		return model.Player{}, translateErr(err)
	}
	return player, nil
}

func (s *Postgres) GetPlayerByUser(ctx context.Context, userID string) (model.PlayerData, error) {
	return s.playerData(ctx, `WHERE user_id = $1`, userID)
}

func (s *Postgres) GetPlayerByID(ctx context.Context, playerID string) (model.PlayerData, error) {
	return s.playerData(ctx, `WHERE id = $1`, playerID)
}

func (s *Postgres) playerData(ctx context.Context, where, arg string) (model.PlayerData, error) {
	var out model.PlayerData
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, avatar, funds
		FROM players
	`+where, arg).Scan(&out.ID, &out.UserID, &out.Name, &out.Avatar, &out.Funds)
	if err != nil {
		return out, translateErr(err)
	}

	labIDs, err := s.labIDsForPlayer(ctx, out.ID)
	if err != nil {
		return out, err
	}
	out.Labs = make([]model.Lab, 0, len(labIDs))
	for _, id := range labIDs {
		lab, err := s.GetLabByID(ctx, id)
		if err != nil {
			return out, err
		}
		out.Labs = append(out.Labs, lab)
	}

	out.Investments, err = s.InvestmentsForPlayer(ctx, out.ID)
	if err != nil {
		return out, err
	}
	return out, nil
}

func (s *Postgres) labIDsForPlayer(ctx context.Context, playerID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id
		FROM labs
		WHERE player_id = $1
		ORDER BY name
	`, playerID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IncrementFunds credits a player by delta and returns the new total.
func (s *Postgres) IncrementFunds(ctx context.Context, playerID string, amount float64) (float64, error) {
	var funds float64
	err := s.db.QueryRow(ctx, `
		UPDATE players
		SET funds = funds + $1
		WHERE id = $2
		RETURNING funds
	`, amount, playerID).Scan(&funds)
	if err != nil {
		return 0, translateErr(err)
	}
	return funds, nil
}

// DecrementFunds debits a player by delta, guarded so the balance can
// never go negative. Returns ErrInsufficientFunds when the guard trips.
func (s *Postgres) DecrementFunds(ctx context.Context, playerID string, amount float64) (float64, error) {
	funds, err := decrementFundsTx(ctx, s.db, playerID, amount)
	if err != nil {
		return 0, err
	}
	return funds, nil
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func decrementFundsTx(ctx context.Context, q execQuerier, playerID string, amount float64) (float64, error) {
	var funds float64
	err := q.QueryRow(ctx, `
		UPDATE players
		SET funds = funds - $1
		WHERE id = $2 AND funds >= $1
		RETURNING funds
	`, amount, playerID).Scan(&funds)
	if err == nil {
		return funds, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, translateErr(err)
	}
	// Guard did not match: distinguish a missing player from a broke one.
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM players WHERE id = $1)`, playerID).Scan(&exists); err != nil {
		return 0, translateErr(err)
	}
	if !exists {
		return 0, model.ErrNotFound
	}
	return 0, model.ErrInsufficientFunds
}

// CreateLab debits the creation cost, inserts the lab, and records the
// founder's 1.0 investment share in a single transaction.
func (s *Postgres) CreateLab(ctx context.Context, playerID, name, location string, cost float64) (model.Lab, float64, error) {
	lab := model.Lab{
		ID:       uuid.NewString(),
		Name:     name,
		Location: location,
		PlayerID: playerID,
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return model.Lab{}, 0, err
	}
	defer tx.Rollback(ctx)

	funds, err := decrementFundsTx(ctx, tx, playerID, cost)
	if err != nil {
		return model.Lab{}, 0, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO labs (id, name, location, valuation, income, player_id)
		VALUES ($1, $2, $3, 0, 0, $4)
	`, lab.ID, lab.Name, lab.Location, lab.PlayerID); err != nil {
		return model.Lab{}, 0, translateErr(err)
	}
	var founder string
	if err := tx.QueryRow(ctx, `SELECT name FROM players WHERE id = $1`, playerID).Scan(&founder); err != nil {
		return model.Lab{}, 0, translateErr(err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO player_lab_investments (player_id, lab_id, part)
		VALUES ($1, $2, 1.0)
	`, playerID, lab.ID); err != nil {
		return model.Lab{}, 0, translateErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Lab{}, 0, err
	}

	lab.Employees = []model.Employee{}
	lab.Models = []model.AIModel{}
	lab.Investors = []model.Investor{{PlayerID: playerID, Name: founder, Part: 1.0}}
	return lab, funds, nil
}

func (s *Postgres) GetLabByID(ctx context.Context, labID string) (model.Lab, error) {
	var lab model.Lab
	err := s.db.QueryRow(ctx, `
		SELECT id, name, location, valuation, income, player_id
		FROM labs
		WHERE id = $1
	`, labID).Scan(&lab.ID, &lab.Name, &lab.Location, &lab.Valuation, &lab.Income, &lab.PlayerID)
	if err != nil {
		return model.Lab{}, translateErr(err)
	}

	lab.Employees = []model.Employee{}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, salary, image_url, role_id, quality_id, lab_id
		FROM employees
		WHERE lab_id = $1
		ORDER BY name
	`, labID)
	if err != nil {
		return model.Lab{}, translateErr(err)
	}
	for rows.Next() {
		var e model.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.Salary, &e.ImageURL, &e.RoleID, &e.QualityID, &e.LabID); err != nil {
			rows.Close()
			return model.Lab{}, err
		}
		lab.Employees = append(lab.Employees, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.Lab{}, err
	}

	lab.Models = []model.AIModel{}
	rows, err = s.db.Query(ctx, `
		SELECT id, name, category_id, lab_id
		FROM ai_models
		WHERE lab_id = $1
		ORDER BY name
	`, labID)
	if err != nil {
		return model.Lab{}, translateErr(err)
	}
	for rows.Next() {
		var m model.AIModel
		if err := rows.Scan(&m.ID, &m.Name, &m.CategoryID, &m.LabID); err != nil {
			rows.Close()
			return model.Lab{}, err
		}
		lab.Models = append(lab.Models, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.Lab{}, err
	}

	lab.Investors = []model.Investor{}
	rows, err = s.db.Query(ctx, `
		SELECT i.player_id, p.name, i.part
		FROM player_lab_investments i
		JOIN players p ON p.id = i.player_id
		WHERE i.lab_id = $1
		ORDER BY i.part DESC, p.name
	`, labID)
	if err != nil {
		return model.Lab{}, translateErr(err)
	}
	for rows.Next() {
		var inv model.Investor
		if err := rows.Scan(&inv.PlayerID, &inv.Name, &inv.Part); err != nil {
			rows.Close()
			return model.Lab{}, err
		}
		lab.Investors = append(lab.Investors, inv)
	}
	rows.Close()
	return lab, rows.Err()
}

func (s *Postgres) UpdateLabValuation(ctx context.Context, labID string, valuation float64) error {
	cmd, err := s.db.Exec(ctx, `UPDATE labs SET valuation = $1 WHERE id = $2`, valuation, labID)
	if err != nil {
		return translateErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Postgres) UpdateLabIncome(ctx context.Context, labID string, income float64) error {
	cmd, err := s.db.Exec(ctx, `UPDATE labs SET income = $1 WHERE id = $2`, income, labID)
	if err != nil {
		return translateErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// CreateModel inserts the model and debits the creation cost in one
// transaction. A duplicate name surfaces as ErrConflict.
func (s *Postgres) CreateModel(ctx context.Context, playerID, labID, name string, categoryID int, cost float64) (model.AIModel, float64, error) {
	m := model.AIModel{
		ID:         uuid.NewString(),
		Name:       name,
		CategoryID: categoryID,
		LabID:      labID,
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return model.AIModel{}, 0, err
	}
	defer tx.Rollback(ctx)

	funds, err := decrementFundsTx(ctx, tx, playerID, cost)
	if err != nil {
		return model.AIModel{}, 0, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO ai_models (id, name, category_id, lab_id)
		VALUES ($1, $2, $3, $4)
	`, m.ID, m.Name, m.CategoryID, m.LabID); err != nil {
		return model.AIModel{}, 0, translateErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.AIModel{}, 0, err
	}
	return m, funds, nil
}

func (s *Postgres) GetModelByName(ctx context.Context, name string) (model.AIModel, error) {
	var m model.AIModel
	err := s.db.QueryRow(ctx, `
		SELECT id, name, category_id, lab_id
		FROM ai_models
		WHERE name = $1
	`, name).Scan(&m.ID, &m.Name, &m.CategoryID, &m.LabID)
	if err != nil {
		return model.AIModel{}, translateErr(err)
	}
	return m, nil
}

func (s *Postgres) InvestmentsForPlayer(ctx context.Context, playerID string) ([]model.Investment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT i.lab_id, l.name, l.income, i.part
		FROM player_lab_investments i
		JOIN labs l ON l.id = i.lab_id
		WHERE i.player_id = $1
		ORDER BY l.name
	`, playerID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	out := make([]model.Investment, 0)
	for rows.Next() {
		var inv model.Investment
		if err := rows.Scan(&inv.LabID, &inv.LabName, &inv.LabIncome, &inv.Part); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *Postgres) TopLabsByValuation(ctx context.Context, limit int) ([]model.Lab, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id
		FROM labs
		ORDER BY valuation DESC, name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Lab, 0, len(ids))
	for _, id := range ids {
		lab, err := s.GetLabByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, lab)
	}
	return out, nil
}

// translateErr maps pgx errors onto the model sentinels so callers
// never branch on driver internals.
func translateErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503", "23514": // unique, foreign key, check
			return fmt.Errorf("%w: %s", model.ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}
