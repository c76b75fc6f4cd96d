package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVectorIndex(t *testing.T) {
	tests := []struct {
		indexType string
		wantErr   bool
	}{
		{"memory", false},
		{"", false},
		{"sqlite-vec", true},
		{"none", true},
		{"faiss", true},
	}
	for _, tt := range tests {
		t.Run(tt.indexType, func(t *testing.T) {
			idx, err := NewVectorIndex(tt.indexType, 3)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer idx.Close()
			require.NoError(t, idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}))
			assert.Equal(t, 1, idx.Size())
			assert.Equal(t, 3, idx.Dimensions())
		})
	}
}
