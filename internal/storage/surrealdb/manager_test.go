package surrealdb

import (
	"context"
	"errors"
	"testing"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	cfg := testConfig(t)

	mgr, err := NewManager(common.NewSilentLogger(), cfg)
	require.NoError(t, err)
	defer mgr.Close()

	assert.NotNil(t, mgr.ReportStore())
	assert.NotNil(t, mgr.ImageStore())
	assert.Equal(t, "surrealdb", mgr.Backend())

	// Tables exist, so a miss is a clean NotFound rather than a query error.
	_, err = mgr.ReportStore().GetByKey(context.Background(), "AAPL")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestNewManager_BadCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Password = "wrong"

	_, err := NewManager(common.NewSilentLogger(), cfg)
	assert.Error(t, err)
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, isNotFoundError(nil))
	assert.True(t, isNotFoundError(errors.New("The record 'reports:x' does not exist")))
	assert.True(t, isNotFoundError(errors.New("table not found")))
	assert.False(t, isNotFoundError(errors.New("connection reset")))
}

func TestManager_CloseTwice(t *testing.T) {
	mgr, err := NewManager(common.NewSilentLogger(), testConfig(t))
	require.NoError(t, err)

	assert.NoError(t, mgr.Close())
	assert.NoError(t, mgr.Close())
}
