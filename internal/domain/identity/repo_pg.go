package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrem/medrem/internal/platform/db"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `u.id, u.name, u.role, u.link_code, u.country, u.timezone, u.language,
	u.created_at, u.updated_at,
	ARRAY(SELECT l.linked_user_id FROM user_links l WHERE l.user_id = u.id
		ORDER BY l.created_at, l.linked_user_id)`

func (r *userRepoPG) scanRow(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Role, &u.LinkCode, &u.Country, &u.Timezone, &u.Language,
		&u.CreatedAt, &u.UpdatedAt, &u.LinkedUsers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO users (id, name, role, link_code, country, timezone, language, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Name, u.Role, u.LinkCode, u.Country, u.Timezone, u.Language, u.CreatedAt, u.UpdatedAt)
	if db.IsUniqueViolation(err, "users_link_code_key") {
		return ErrLinkCodeTaken
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users u WHERE u.id = $1`, id))
}

func (r *userRepoPG) GetByLinkCode(ctx context.Context, code string) (*User, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users u WHERE u.link_code = $1`, code))
}

func (r *userRepoPG) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+userCols+` FROM users u WHERE u.id = ANY($1) ORDER BY u.created_at, u.id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *userRepoPG) Link(ctx context.Context, a, b uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		for _, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
			_, err := q.Exec(ctx,
				`INSERT INTO user_links (user_id, linked_user_id) VALUES ($1, $2)`, pair[0], pair[1])
			if db.IsUniqueViolation(err, "") {
				return ErrAlreadyLinked
			}
			if err != nil {
				return fmt.Errorf("insert link %s -> %s: %w", pair[0], pair[1], err)
			}
		}
		_, err := q.Exec(ctx, `UPDATE users SET updated_at = NOW() WHERE id = ANY($1)`, []uuid.UUID{a, b})
		return err
	})
}
