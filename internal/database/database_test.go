package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnode/omnode/internal/database"
)

func TestNewHasPlaceholders(t *testing.T) {
	db := database.New()
	snap := db.Snapshot()
	for i := 0; i < database.Size; i++ {
		assert.Equal(t, "word0word1word2word3word4"[5*i:5*i+5], snap[i])
	}
}

func TestSetWritesIndex(t *testing.T) {
	db := database.New()
	require.NoError(t, db.Set(2, "apple"))
	snap := db.Snapshot()
	assert.Equal(t, "apple", snap[2])
}

func TestSetRejectsOutOfRange(t *testing.T) {
	db := database.New()
	assert.Error(t, db.Set(5, "foo"))
	assert.Error(t, db.Set(-1, "foo"))
}
