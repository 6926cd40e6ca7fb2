package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"medisched/backend/internal/domain"
	"medisched/backend/internal/store"
)

type DirectoryRepo struct {
	db *bun.DB
}

func NewDirectoryRepo(db *bun.DB) *DirectoryRepo {
	return &DirectoryRepo{db: db}
}

func (r *DirectoryRepo) GetProvider(ctx context.Context, id uuid.UUID) (domain.Provider, error) {
	var p domain.Provider
	err := r.db.NewSelect().
		Model(&p).
		Relation("Rules").
		Where("provider.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Provider{}, store.ErrNotFound
		}
		return domain.Provider{}, err
	}
	return p, nil
}

func (r *DirectoryRepo) ListActiveProviders(ctx context.Context) ([]domain.Provider, error) {
	var rows []domain.Provider
	err := r.db.NewSelect().
		Model(&rows).
		Relation("Rules").
		Where("provider.active").
		OrderExpr("provider.display_name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DirectoryRepo) UserExists(ctx context.Context, id string) (bool, error) {
	return r.db.NewSelect().
		Model((*User)(nil)).
		Where("id = ?", id).
		Exists(ctx)
}

// User is the minimal slice of the user table the scheduling core needs: an
// existence check for the requesting user. Account management lives
// elsewhere.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	Email     string    `bun:"email"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
