// Exercises the Postgres reference adapter against a real database.
// Skipped unless ZKCONSENSUS_TEST_DB names a reachable Postgres DSN.
package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/config"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("ZKCONSENSUS_TEST_DB")
	if dsn == "" {
		t.Skip("ZKCONSENSUS_TEST_DB not set, skipping live Postgres test")
	}
	cfg := &config.Config{
		DatabaseURL:      dsn,
		DatabaseMaxConns: 5,
		DatabaseMinConns: 1,
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	require.NoError(t, client.MigrateUp(context.Background()))
	return client
}

func TestBlockRepository_SaveAndGetBlockRoundtrips(t *testing.T) {
	client := testClient(t)
	defer client.Close()
	repo := NewBlockRepository(client)

	block := codec.Block{Header: codec.BlockHeader{BlockNumber: 7}}
	require.NoError(t, repo.SaveBlock(context.Background(), block))

	got, err := repo.GetBlock(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, uint64(7), got.Header.BlockNumber)
}

func TestBlockRepository_GetBlock_NotFoundReturnsSentinel(t *testing.T) {
	client := testClient(t)
	defer client.Close()
	repo := NewBlockRepository(client)

	_, err := repo.GetBlock(context.Background(), 999999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBlockRepository_LatestHeight(t *testing.T) {
	client := testClient(t)
	defer client.Close()
	repo := NewBlockRepository(client)

	require.NoError(t, repo.SaveBlock(context.Background(), codec.Block{Header: codec.BlockHeader{BlockNumber: 3}}))
	require.NoError(t, repo.SaveBlock(context.Background(), codec.Block{Header: codec.BlockHeader{BlockNumber: 10}}))

	height, err := repo.LatestHeight(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, height, uint64(10))
}
