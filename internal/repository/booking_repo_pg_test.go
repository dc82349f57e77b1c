package repository

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
)

func TestNewBookingRepository(t *testing.T) {
	pool := &pgxpool.Pool{}
	repo := NewBookingRepository(pool)
	assert.NotNil(t, repo)
}

func TestNewPostgres(t *testing.T) {
	repos := NewPostgres(&pgxpool.Pool{}, nil)

	assert.NotNil(t, repos.Slots)
	assert.NotNil(t, repos.Bookings)
	assert.NotNil(t, repos.Games)
	assert.NotNil(t, repos.Tx)
}
