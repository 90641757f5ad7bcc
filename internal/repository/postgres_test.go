package repository

import (
	"testing"

	"github.com/stretchr/testify/require"

	"goal-agent/internal/domain"
)

func TestGoalWhere(t *testing.T) {
	tests := []struct {
		name      string
		filter    domain.GoalFilter
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "user only",
			wantWhere: "user_id=$1",
			wantArgs:  []any{"u1"},
		},
		{
			name:      "category and status",
			filter:    domain.GoalFilter{Category: "auto", Status: "pending"},
			wantWhere: "user_id=$1 AND category=$2 AND status=$3",
			wantArgs:  []any{"u1", "auto", "pending"},
		},
		{
			name:      "search",
			filter:    domain.GoalFilter{Search: "  auto "},
			wantWhere: "user_id=$1 AND (name ILIKE $2 OR description ILIKE $2)",
			wantArgs:  []any{"u1", "%auto%"},
		},
		{
			name:      "blank search ignored",
			filter:    domain.GoalFilter{Search: "   "},
			wantWhere: "user_id=$1",
			wantArgs:  []any{"u1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := goalWhere("u1", tt.filter)
			require.Equal(t, tt.wantWhere, where)
			require.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestEscapeLike(t *testing.T) {
	require.Equal(t, `100\%`, escapeLike("100%"))
	require.Equal(t, `a\_b`, escapeLike("a_b"))
	require.Equal(t, `c:\\tmp`, escapeLike(`c:\tmp`))
	require.Equal(t, "auto", escapeLike("auto"))
}
