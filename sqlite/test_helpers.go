package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// NewTestStore returns a temporary file-backed SqlStore which is cleaned up
// when the test finishes.
func NewTestStore(t *testing.T) *SqlStore {
	tempDir := t.TempDir()

	s, err := NewSqlStore(filepath.Join(tempDir, DefaultFilename), zap.NewNop())
	require.NoError(t, err, "unable to open testing database")
	t.Cleanup(func() {
		s.Close()
	})

	return s
}
