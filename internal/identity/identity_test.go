package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBabyID(t *testing.T) {
	tests := []struct {
		name    string
		inName  string
		inDOB   string
		want    string
		wantErr error
	}{
		{name: "basic", inName: "Aria", inDOB: "2023-05-01", want: "Aria_20230501"},
		{name: "case preserved", inName: "aria", inDOB: "2023-05-01", want: "aria_20230501"},
		{name: "surrounding spaces trimmed", inName: "  Aria ", inDOB: "2023-05-01", want: "Aria_20230501"},
		{name: "inner spaces kept", inName: "Aria Rose", inDOB: "2023-05-01", want: "Aria Rose_20230501"},
		{name: "hangul", inName: "하늘", inDOB: "2024-01-31", want: "하늘_20240131"},
		{name: "decomposed form normalized", inName: "Ame\u0301lie", inDOB: "2023-05-01", want: "Am\u00e9lie_20230501"},
		{name: "empty name", inName: "   ", inDOB: "2023-05-01", wantErr: ErrEmptyName},
		{name: "bad date", inName: "Aria", inDOB: "2023/05/01", wantErr: ErrInvalidDOB},
		{name: "impossible date", inName: "Aria", inDOB: "2023-02-30", wantErr: ErrInvalidDOB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BabyID(tt.inName, tt.inDOB)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBabyID_Deterministic(t *testing.T) {
	first, err := BabyID("Aria", "2023-05-01")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := BabyID("Aria", "2023-05-01")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "20230501", DigitsOnly("2023-05-01"))
	assert.Equal(t, "20230501", DigitsOnly("2023/05/01"))
	assert.Equal(t, "", DigitsOnly("--"))
}

func TestProfileID(t *testing.T) {
	assert.Equal(t, "Aria_20230501_1", ProfileID("Aria_20230501", 1))
	assert.Equal(t, "Aria_20230501_12", ProfileID("Aria_20230501", 12))
}

func TestConflictError(t *testing.T) {
	var err error = &ConflictError{BabyID: "Aria_20230501", Attempts: 3}
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "Aria_20230501")
	assert.Contains(t, err.Error(), "3 attempts")
}
