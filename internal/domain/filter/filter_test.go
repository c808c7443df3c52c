package filter

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

func TestCompile_RejectsBadExpressions(t *testing.T) {
	_, err := Compile(`key.startsWith(`)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
}

func TestCompile_RejectsNonBool(t *testing.T) {
	_, err := Compile(`key + "x"`)
	require.Error(t, err)
}

func TestMatchRecord(t *testing.T) {
	p, err := Compile(`key.startsWith("TEST-") || attrs["region"] == "sandbox"`)
	require.NoError(t, err)

	tests := []struct {
		name string
		rec  dimension.ChangeRecord
		want bool
	}{
		{
			name: "key prefix matches",
			rec:  dimension.ChangeRecord{BusinessKey: "TEST-001", Attributes: dimension.Attributes{"region": "prod"}},
			want: true,
		},
		{
			name: "attribute matches",
			rec:  dimension.ChangeRecord{BusinessKey: "A001", Attributes: dimension.Attributes{"region": "sandbox"}},
			want: true,
		},
		{
			name: "no match",
			rec:  dimension.ChangeRecord{BusinessKey: "A001", Attributes: dimension.Attributes{"region": "prod"}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.MatchRecord(tt.rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchRecord_OperationVariable(t *testing.T) {
	p, err := Compile(`op == "DELETE"`)
	require.NoError(t, err)

	got, err := p.MatchRecord(dimension.ChangeRecord{BusinessKey: "A", Operation: dimension.OpDelete})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = p.MatchRecord(dimension.ChangeRecord{BusinessKey: "A"})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestMatchVersion_DecimalAttributes(t *testing.T) {
	p, err := Compile(`attrs["balance"] > 100.0`)
	require.NoError(t, err)

	v := dimension.Version{
		BusinessKey: "A001",
		Attributes:  dimension.Attributes{"balance": decimal.RequireFromString("250.5000")},
	}
	got, err := p.MatchVersion(v)
	require.NoError(t, err)
	assert.True(t, got)
}
