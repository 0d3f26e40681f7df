package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Prefs are the persisted per-user generation preferences.
type Prefs struct {
	UserID      int64
	Language    string
	DefaultKind string
	Quality     bool
}

// DefaultPrefs are returned for users who never stored anything.
func DefaultPrefs(userID int64, locale string) Prefs {
	return Prefs{UserID: userID, Language: locale, DefaultKind: "image"}
}

// PrefsRepo persists user preferences in PostgreSQL. A nil repo is valid and
// makes every read return defaults, so the pipeline runs without a database.
type PrefsRepo struct {
	pool          *pgxpool.Pool
	defaultLocale string
}

// NewPrefsRepo creates a repository over pool.
func NewPrefsRepo(pool *pgxpool.Pool, defaultLocale string) *PrefsRepo {
	return &PrefsRepo{pool: pool, defaultLocale: defaultLocale}
}

// EnsureSchema creates the preference table when absent.
func (r *PrefsRepo) EnsureSchema(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS user_prefs (
    user_id      BIGINT PRIMARY KEY,
    language     TEXT NOT NULL DEFAULT 'en',
    default_kind TEXT NOT NULL DEFAULT 'image',
    quality      BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
	if err != nil {
		return fmt.Errorf("prefs: ensure schema: %w", err)
	}
	return nil
}

// Get fetches a user's preferences, falling back to defaults on missing rows.
func (r *PrefsRepo) Get(ctx context.Context, userID int64) (Prefs, error) {
	if r == nil || r.pool == nil {
		return DefaultPrefs(userID, "en"), nil
	}
	p := Prefs{UserID: userID}
	row := r.pool.QueryRow(ctx,
		`SELECT language, default_kind, quality FROM user_prefs WHERE user_id = $1`, userID)
	if err := row.Scan(&p.Language, &p.DefaultKind, &p.Quality); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultPrefs(userID, r.defaultLocale), nil
		}
		return Prefs{}, fmt.Errorf("prefs: get user %d: %w", userID, err)
	}
	return p, nil
}

// Upsert stores a user's preferences, last write winning.
func (r *PrefsRepo) Upsert(ctx context.Context, p Prefs) error {
	if r == nil || r.pool == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO user_prefs (user_id, language, default_kind, quality, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (user_id) DO UPDATE
SET language = EXCLUDED.language,
    default_kind = EXCLUDED.default_kind,
    quality = EXCLUDED.quality,
    updated_at = NOW();
`, p.UserID, p.Language, p.DefaultKind, p.Quality)
	if err != nil {
		return fmt.Errorf("prefs: upsert user %d: %w", p.UserID, err)
	}
	return nil
}
