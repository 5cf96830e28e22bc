package main

import (
	"context"
	"testing"

	"github.com/MrEthical07/ticketauth"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestMemoryCredentialStoreUsesProvidedNode(t *testing.T) {
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	store, err := newCredentialStore(fxtest.NewLifecycle(t), Config{SnowflakeNode: 9}, node, zap.NewNop())
	require.NoError(t, err)

	created, err := store.Create(context.Background(), ticketauth.Identity{Email: "fan@example.com", Username: "fan", Role: ticketauth.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, int64(5), snowflake.ParseInt64(created.ID).Node())
}
