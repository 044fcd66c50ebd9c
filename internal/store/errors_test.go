package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConflict(t *testing.T) {
	assert.False(t, isConflict(nil))
	assert.False(t, isConflict(errors.New("no such table: users")))
	assert.True(t, isConflict(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isConflict(fmt.Errorf("upsert: %w", errors.New("database is locked"))))
}
