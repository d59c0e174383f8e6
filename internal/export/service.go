package export

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// Recorder appends activity log entries.
type Recorder interface {
	Record(ctx context.Context, ev activity.Event)
}

// titledColumns hold enum values shown with a leading capital.
var titledColumns = map[string]bool{
	"Status":           true,
	"Quantity Type":    true,
	"Reservation Type": true,
}

// Service builds exports and records who downloaded what.
type Service struct {
	repo  Repository
	audit Recorder
}

// NewService constructs a Service. audit may be nil.
func NewService(repo Repository, audit Recorder) *Service {
	return &Service{repo: repo, audit: audit}
}

// Export loads the dataset for kind and records an EXPORT_<KIND> entry.
func (s *Service) Export(ctx context.Context, kind Kind, f Filters, format Format) (Table, error) {
	if f.Status != "" && f.Status != "draft" && f.Status != "confirmed" {
		return Table{}, fmt.Errorf("%w: status must be draft or confirmed", shared.ErrValidation)
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return Table{}, fmt.Errorf("%w: end_date must not be before start_date", shared.ErrValidation)
	}
	t, err := s.repo.Fetch(ctx, kind, f)
	if err != nil {
		return Table{}, err
	}
	titleEnums(t)
	if s.audit != nil {
		s.audit.Record(ctx, activity.Event{
			ActorID:    shared.ActorID(ctx),
			Action:     kind.Action(),
			EntityType: string(kind),
			Details: map[string]any{
				"format":  format,
				"count":   len(t.Rows),
				"filters": f,
			},
		})
	}
	return t, nil
}

func titleEnums(t Table) {
	title := cases.Title(language.Und)
	for i, col := range t.Columns {
		if !titledColumns[col] {
			continue
		}
		for _, row := range t.Rows {
			if i < len(row) {
				row[i] = title.String(row[i])
			}
		}
	}
}
