package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/iliyamo/portfolio-builder/internal/model"
)

type PortfolioRepo struct{ DB *sql.DB }

func NewPortfolioRepo(db *sql.DB) *PortfolioRepo { return &PortfolioRepo{DB: db} }

const portfolioColumns = "id,user_id,headline,about_me,skills,projects,is_published,published_at,created_at,updated_at"

// Upsert stores the generated content for p.UserID, replacing any previous
// generation, and returns the portfolio id.  Publication state is kept.
func (r *PortfolioRepo) Upsert(ctx context.Context, p model.Portfolio) (uint64, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO portfolios (user_id, headline, about_me, skills, projects)
		VALUES (?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
			id = LAST_INSERT_ID(id),
			headline = VALUES(headline),
			about_me = VALUES(about_me),
			skills = VALUES(skills),
			projects = VALUES(projects),
			updated_at = UTC_TIMESTAMP()`,
		p.UserID, p.Headline, p.AboutMe, nullJSON(p.Skills), nullJSON(p.Projects))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByUser returns the portfolio owned by userID.
func (r *PortfolioRepo) GetByUser(ctx context.Context, userID uint64) (model.Portfolio, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+portfolioColumns+" FROM portfolios WHERE user_id=? LIMIT 1", userID))
}

// TogglePublished flips the publication flag and returns the new state.
func (r *PortfolioRepo) TogglePublished(ctx context.Context, userID uint64) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var published bool
	err = tx.QueryRowContext(ctx,
		"SELECT is_published FROM portfolios WHERE user_id=? FOR UPDATE", userID).Scan(&published)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	published = !published
	var publishedAt any
	if published {
		publishedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE portfolios SET is_published=?, published_at=?, updated_at=UTC_TIMESTAMP() WHERE user_id=?",
		published, publishedAt, userID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return published, nil
}

// PublicPortfolio is a published portfolio with its owner's public handle.
type PublicPortfolio struct {
	Portfolio model.Portfolio `json:"portfolio"`
	Username  string          `json:"username"`
}

// GetPublished returns a portfolio by id only when it is published.
func (r *PortfolioRepo) GetPublished(ctx context.Context, id uint64) (PublicPortfolio, error) {
	var (
		out              PublicPortfolio
		headline, about  sql.NullString
		skills, projects []byte
		publishedAt      sql.NullTime
	)
	p := &out.Portfolio
	err := r.DB.QueryRowContext(ctx, `
		SELECT p.id,p.user_id,p.headline,p.about_me,p.skills,p.projects,p.is_published,p.published_at,p.created_at,p.updated_at,u.username
		FROM portfolios p JOIN users u ON u.id = p.user_id
		WHERE p.id=? AND p.is_published=1 AND u.is_active=1 LIMIT 1`, id).
		Scan(&p.ID, &p.UserID, &headline, &about, &skills, &projects, &p.IsPublished, &publishedAt, &p.CreatedAt, &p.UpdatedAt, &out.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return PublicPortfolio{}, ErrNotFound
	}
	if err != nil {
		return PublicPortfolio{}, err
	}
	fill(p, headline, about, skills, projects, publishedAt)
	return out, nil
}

func (r *PortfolioRepo) scanOne(row *sql.Row) (model.Portfolio, error) {
	var (
		p                model.Portfolio
		headline, about  sql.NullString
		skills, projects []byte
		publishedAt      sql.NullTime
	)
	err := row.Scan(&p.ID, &p.UserID, &headline, &about, &skills, &projects, &p.IsPublished, &publishedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Portfolio{}, ErrNotFound
	}
	if err != nil {
		return model.Portfolio{}, err
	}
	fill(&p, headline, about, skills, projects, publishedAt)
	return p, nil
}

func fill(p *model.Portfolio, headline, about sql.NullString, skills, projects []byte, publishedAt sql.NullTime) {
	p.Headline = headline.String
	p.AboutMe = about.String
	if len(skills) > 0 {
		p.Skills = json.RawMessage(skills)
	}
	if len(projects) > 0 {
		p.Projects = json.RawMessage(projects)
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		p.PublishedAt = &t
	}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
