package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func Test_translateError(t *testing.T) {
	otherErr := errors.New("connection reset")

	tcases := []struct {
		name     string
		err      error
		expected error
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: nil,
		},
		{
			name:     "no rows",
			err:      sql.ErrNoRows,
			expected: ErrNotFound,
		},
		{
			name:     "wrapped no rows",
			err:      fmt.Errorf("scan: %w", sql.ErrNoRows),
			expected: ErrNotFound,
		},
		{
			name:     "unique violation",
			err:      &pq.Error{Code: uniqueViolation, Constraint: "rooms_code_key"},
			expected: ErrConflict,
		},
		{
			name:     "other error",
			err:      otherErr,
			expected: otherErr,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := translateError(tc.err)
			if tc.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.expected, "expected %v, got %v", tc.expected, err)
		})
	}
}

func Test_translateError_ConflictNamesConstraint(t *testing.T) {
	err := translateError(&pq.Error{Code: uniqueViolation, Constraint: "rooms_code_key"})
	assert.Contains(t, err.Error(), "rooms_code_key")
}
