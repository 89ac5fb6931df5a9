package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"hospital-chat/internal/identity"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository serves the hospital staff directory.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (identity.Profile, error)
	BulkUsers(ctx context.Context, ids []string) ([]identity.Profile, error)
	ListHospitalStaff(ctx context.Context, hospitalID string) ([]identity.Profile, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a single profile.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (identity.Profile, error) {
	var p identity.Profile
	err := r.db.GetContext(ctx, &p, `SELECT id, name, email, role, avatar_url, hospital_id FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Profile{}, ErrUserNotFound
	}
	return p, err
}

// BulkUsers fetches multiple profiles in one query. Missing ids are simply
// absent from the result.
func (r *UserRepo) BulkUsers(ctx context.Context, ids []string) ([]identity.Profile, error) {
	if len(ids) == 0 {
		return []identity.Profile{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, name, email, role, avatar_url, hospital_id FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var profiles []identity.Profile
	if err := r.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		return nil, err
	}
	return profiles, nil
}

// ListHospitalStaff returns the addressable peers within a hospital,
// alphabetical by name.
func (r *UserRepo) ListHospitalStaff(ctx context.Context, hospitalID string) ([]identity.Profile, error) {
	var profiles []identity.Profile
	err := r.db.SelectContext(ctx, &profiles, `SELECT id, name, email, role, avatar_url, hospital_id
        FROM users WHERE hospital_id=$1 ORDER BY name ASC`, hospitalID)
	return profiles, err
}
