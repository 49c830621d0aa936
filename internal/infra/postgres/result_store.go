package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"skillquiz-service/internal/domain"
)

type skillResultRow struct {
	bun.BaseModel `bun:"table:skill_results"`

	ID             int64     `bun:"id,pk,autoincrement"`
	UserID         string    `bun:"user_id,notnull"`
	Subject        string    `bun:"subject,notnull"`
	Score          int       `bun:"score,notnull"`
	WeakAreas      []string  `bun:"weak_areas,array"`
	TotalQuestions int       `bun:"total_questions,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ResultStore writes completed quiz results to the skill_results table.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

func (s *ResultStore) SaveSkillResult(ctx context.Context, result domain.SkillResult) error {
	weak := result.WeakAreas
	if weak == nil {
		weak = []string{}
	}
	row := &skillResultRow{
		UserID:         result.UserID,
		Subject:        result.Subject,
		Score:          result.Score,
		WeakAreas:      weak,
		TotalQuestions: result.TotalQuestions,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("insert skill result: %w", err)
	}
	return nil
}

// ForUser returns a user's saved results, newest first.
func (s *ResultStore) ForUser(ctx context.Context, userID string) ([]domain.SkillResult, error) {
	var rows []skillResultRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select skill results: %w", err)
	}
	out := make([]domain.SkillResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.SkillResult{
			UserID:         r.UserID,
			Subject:        r.Subject,
			Score:          r.Score,
			WeakAreas:      r.WeakAreas,
			TotalQuestions: r.TotalQuestions,
		})
	}
	return out, nil
}
