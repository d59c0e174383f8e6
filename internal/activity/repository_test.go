package activity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBuildWhere(t *testing.T) {
	actor := uuid.New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)

	cases := []struct {
		name    string
		filters Filters
		extra   []string
		want    string
		args    []any
	}{
		{
			name: "no filters",
			want: "",
			args: []any{},
		},
		{
			name:  "extra only",
			extra: []string{"al.entity_type IS NOT NULL"},
			want:  "\nWHERE al.entity_type IS NOT NULL",
			args:  []any{},
		},
		{
			name:    "search reuses one placeholder",
			filters: Filters{Search: "inv"},
			want:    "\nWHERE (al.action ILIKE $1 OR u.username ILIKE $1)",
			args:    []any{"%inv%"},
		},
		{
			name:    "skipped filters keep numbering dense",
			filters: Filters{Action: "create", End: &end},
			want:    "\nWHERE al.action ILIKE $1 AND al.created_at <= $2",
			args:    []any{"%create%", end},
		},
		{
			name: "all filters with extra condition",
			filters: Filters{
				ActorID:    &actor,
				EntityType: "invoices",
				Action:     "STATUS",
				Start:      &start,
				End:        &end,
				Search:     "ana",
			},
			extra: []string{"al.entity_type IS NOT NULL"},
			want: "\nWHERE al.entity_type IS NOT NULL" +
				" AND al.user_id = $1" +
				" AND al.entity_type = $2" +
				" AND al.action ILIKE $3" +
				" AND al.created_at >= $4" +
				" AND al.created_at <= $5" +
				" AND (al.action ILIKE $6 OR u.username ILIKE $6)",
			args: []any{actor, "invoices", "%STATUS%", start, end, "%ana%"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			where, args := buildWhere(tc.filters, tc.extra...)
			assert.Equal(t, tc.want, where)
			assert.Equal(t, tc.args, args)
		})
	}
}
