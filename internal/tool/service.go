package tool

import (
	"context"
	"fmt"

	"github.com/verkstad/toolmgmt/internal/logbook"
)

// HistorySource lists tool changes for a tool number across machines.
// *logbook.SQLiteRepository satisfies it.
type HistorySource interface {
	ListToolChangesByTool(ctx context.Context, toolNumber int, opts logbook.ListOptions) (logbook.Page[logbook.ToolChange], error)
}

// Service validates catalogue changes and serves tool history.
type Service struct {
	repo    Repository
	history HistorySource
}

// NewService creates a catalogue service. history may be nil, in which
// case History returns empty pages.
func NewService(repo Repository, history HistorySource) *Service {
	return &Service{repo: repo, history: history}
}

// List returns every catalogued tool.
func (s *Service) List(ctx context.Context) ([]Tool, error) {
	return s.repo.List(ctx)
}

// Get returns the tool with the given number.
func (s *Service) Get(ctx context.Context, number int) (*Tool, error) {
	return s.repo.GetByNumber(ctx, number)
}

// Create validates and stores a new tool.
func (s *Service) Create(ctx context.Context, t *Tool) error {
	if err := Validate(t); err != nil {
		return err
	}
	return s.repo.Create(ctx, t)
}

// Update validates and replaces a tool.
func (s *Service) Update(ctx context.Context, t *Tool) error {
	if err := Validate(t); err != nil {
		return err
	}
	return s.repo.Update(ctx, t)
}

// Delete removes a tool from the catalogue.
func (s *Service) Delete(ctx context.Context, number int) error {
	return s.repo.Delete(ctx, number)
}

// History returns tool changes for number, newest first.
func (s *Service) History(ctx context.Context, number int, opts logbook.ListOptions) (logbook.Page[logbook.ToolChange], error) {
	if number < 1 {
		return logbook.Page[logbook.ToolChange]{}, fmt.Errorf("%w: tool number must be positive", ErrInvalidTool)
	}
	if s.history == nil {
		return logbook.Page[logbook.ToolChange]{Items: []logbook.ToolChange{}}, nil
	}
	return s.history.ListToolChangesByTool(ctx, number, opts)
}
