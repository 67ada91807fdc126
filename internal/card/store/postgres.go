package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tapcard/internal/card/models"
	id "tapcard/pkg/domain"
	"tapcard/pkg/platform/sentinel"
)

// Cards and users are stored as jsonb documents with the queried fields
// extracted into columns. A partial unique index on cards.user_id backs the
// one-card-per-user invariant:
//
//	CREATE TABLE cards (
//	    id              UUID PRIMARY KEY,
//	    user_id         UUID,
//	    anonymous_id    TEXT,
//	    trial_delete_at TIMESTAMPTZ,
//	    doc             JSONB NOT NULL,
//	    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE UNIQUE INDEX cards_user_id_key ON cards (user_id) WHERE user_id IS NOT NULL;
//	CREATE INDEX cards_anonymous_id_idx ON cards (anonymous_id) WHERE anonymous_id IS NOT NULL;
//	CREATE INDEX cards_trial_delete_at_idx ON cards (trial_delete_at) WHERE trial_delete_at IS NOT NULL;
//
//	CREATE TABLE users (
//	    id         UUID PRIMARY KEY,
//	    doc        JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);

const uniqueViolation = "23505"

// PostgresCardStore persists card documents in PostgreSQL.
type PostgresCardStore struct {
	db *sql.DB
}

func NewPostgresCardStore(db *sql.DB) *PostgresCardStore {
	return &PostgresCardStore{db: db}
}

func (s *PostgresCardStore) Save(ctx context.Context, card *models.Card) error {
	doc, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	query := `
		INSERT INTO cards (id, user_id, anonymous_id, trial_delete_at, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())`
	_, err = s.db.ExecContext(ctx, query,
		card.ID.String(), userIDParam(card.UserID), anonIDParam(card.AnonymousID), card.TrialDeleteAt, doc)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (s *PostgresCardStore) Update(ctx context.Context, card *models.Card) error {
	doc, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	query := `
		UPDATE cards
		SET user_id = $2, anonymous_id = $3, trial_delete_at = $4, doc = $5, updated_at = now()
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query,
		card.ID.String(), userIDParam(card.UserID), anonIDParam(card.AnonymousID), card.TrialDeleteAt, doc)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update card rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresCardStore) FindByID(ctx context.Context, cardID id.CardID) (*models.Card, error) {
	return s.findOne(ctx, `SELECT doc FROM cards WHERE id = $1`, cardID.String())
}

func (s *PostgresCardStore) FindByUserID(ctx context.Context, userID id.UserID) (*models.Card, error) {
	return s.findOne(ctx, `SELECT doc FROM cards WHERE user_id = $1`, userID.String())
}

func (s *PostgresCardStore) FindByAnonymousID(ctx context.Context, anonID id.AnonymousID) (*models.Card, error) {
	if anonID.IsEmpty() {
		return nil, sentinel.ErrNotFound
	}
	return s.findOne(ctx, `SELECT doc FROM cards WHERE anonymous_id = $1`, string(anonID))
}

func (s *PostgresCardStore) findOne(ctx context.Context, query string, arg any) (*models.Card, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query card: %w", err)
	}
	var card models.Card
	if err := json.Unmarshal(doc, &card); err != nil {
		return nil, fmt.Errorf("unmarshal card: %w", err)
	}
	return &card, nil
}

func (s *PostgresCardStore) ListTrialDeleteDue(ctx context.Context, now time.Time) ([]*models.Card, error) {
	query := `
		SELECT doc FROM cards
		WHERE trial_delete_at IS NOT NULL AND trial_delete_at <= $1
		ORDER BY trial_delete_at`
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due cards: %w", err)
	}
	defer rows.Close()

	var due []*models.Card
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan due card: %w", err)
		}
		var card models.Card
		if err := json.Unmarshal(doc, &card); err != nil {
			return nil, fmt.Errorf("unmarshal due card: %w", err)
		}
		due = append(due, &card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due cards: %w", err)
	}
	return due, nil
}

func (s *PostgresCardStore) Delete(ctx context.Context, cardID id.CardID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, cardID.String()); err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	return nil
}

// PostgresUserStore persists user documents in PostgreSQL.
type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) Save(ctx context.Context, user *models.User) error {
	doc, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	query := `
		INSERT INTO users (id, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, query, user.ID.String(), doc); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) Update(ctx context.Context, user *models.User) error {
	doc, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET doc = $2, updated_at = now() WHERE id = $1`, user.ID.String(), doc)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresUserStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM users WHERE id = $1`, userID.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	var user models.User
	if err := json.Unmarshal(doc, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &user, nil
}

func userIDParam(userID *id.UserID) any {
	if userID == nil {
		return nil
	}
	return userID.String()
}

func anonIDParam(anonID id.AnonymousID) any {
	if anonID.IsEmpty() {
		return nil
	}
	return string(anonID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
