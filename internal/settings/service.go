package settings

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings are the retrieval parameters that can change while the server runs.
type Settings struct {
	ID           int     `json:"-"`
	TopK         int     `json:"top_k"`
	MinScore     float32 `json:"min_score"`
	FAQThreshold float32 `json:"faq_threshold"`
}

// FieldError names the setting that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidSettings, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidSettings
}

func (s *Settings) Validate() error {
	if s.TopK < 1 {
		return &FieldError{Field: "top_k", Reason: fmt.Sprintf("must be at least 1, got %d", s.TopK)}
	}
	if s.MinScore < -1 || s.MinScore > 1 {
		return &FieldError{Field: "min_score", Reason: fmt.Sprintf("must be within [-1, 1], got %.3f", s.MinScore)}
	}
	if s.FAQThreshold <= s.MinScore || s.FAQThreshold > 1 {
		return &FieldError{Field: "faq_threshold", Reason: fmt.Sprintf("must be in (min_score %.3f, 1], got %.3f", s.MinScore, s.FAQThreshold)}
	}
	return nil
}

// Patch is a partial update; nil fields keep their stored value.
type Patch struct {
	TopK         *int     `json:"top_k"`
	MinScore     *float32 `json:"min_score"`
	FAQThreshold *float32 `json:"faq_threshold"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

// Apply merges p into the stored settings and saves the result when it is
// valid as a whole.
func (s *Service) Apply(ctx context.Context, p Patch) (*Settings, error) {
	cur, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	next := *cur
	if p.TopK != nil {
		next.TopK = *p.TopK
	}
	if p.MinScore != nil {
		next.MinScore = *p.MinScore
	}
	if p.FAQThreshold != nil {
		next.FAQThreshold = *p.FAQThreshold
	}
	if err := s.Update(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}
