package columnar_test

import (
	"testing"

	"github.com/basekick-labs/avrocol/pkg/columnar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrailingDataPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    columnar.TrailingDataPolicy
		wantErr bool
	}{
		{"", columnar.TrailingFail, false},
		{"fail", columnar.TrailingFail, false},
		{"ignore", columnar.TrailingIgnore, false},
		{"warn", 0, true},
		{" IGNORE ", columnar.TrailingIgnore, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := columnar.ParseTrailingDataPolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTrailingDataPolicy_String(t *testing.T) {
	assert.Equal(t, "fail", columnar.TrailingFail.String())
	assert.Equal(t, "ignore", columnar.TrailingIgnore.String())
}
