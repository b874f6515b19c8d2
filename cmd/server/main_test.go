package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/collateral-lending-ledger/internal/config"
	memevents "github.com/sheikh-saqib/collateral-lending-ledger/internal/events/memory"
	memstore "github.com/sheikh-saqib/collateral-lending-ledger/internal/storage/memory"
)

func TestInitializeLogger(t *testing.T) {
	logger, err := initializeLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = initializeLogger("shouty")
	assert.Error(t, err)
}

func TestDefaultsSelectInMemoryComponents(t *testing.T) {
	cfg := config.Default()

	store, closeStore, err := openStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &memstore.MemoryLedgerStore{}, store)

	publisher, err := openPublisher(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &memevents.Recorder{}, publisher)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	envFile, err := cmd.Flags().GetString("env-file")
	require.NoError(t, err)
	assert.Equal(t, ".env", envFile)
	assert.NotNil(t, cmd.Flags().Lookup("shutdown-timeout"))
}
