package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

type stubTx struct {
	pgx.Tx
	commits   int
	rollbacks int
}

func (s *stubTx) Commit(ctx context.Context) error   { s.commits++; return nil }
func (s *stubTx) Rollback(ctx context.Context) error { s.rollbacks++; return nil }

func TestTxFromContext(t *testing.T) {
	_, ok := TxFromContext(context.Background())
	require.False(t, ok)

	stub := &stubTx{}
	ctx := ContextWithTx(context.Background(), stub)
	tx, ok := TxFromContext(ctx)
	require.True(t, ok)
	require.Same(t, stub, tx)
}

func TestRunInTxJoinsAmbientTransaction(t *testing.T) {
	stub := &stubTx{}
	ctx := ContextWithTx(context.Background(), stub)

	var got pgx.Tx
	err := RunInTx(ctx, nil, func(ctx context.Context, tx pgx.Tx) error {
		got = tx
		// The ambient transaction stays visible to nested units of work.
		inner, ok := TxFromContext(ctx)
		require.True(t, ok)
		require.Same(t, stub, inner)
		return nil
	})
	require.NoError(t, err)
	require.Same(t, stub, got)

	// Joined work never commits or rolls back; the outermost caller owns both.
	require.Zero(t, stub.commits)
	require.Zero(t, stub.rollbacks)
}

func TestRunInTxJoinedPropagatesError(t *testing.T) {
	stub := &stubTx{}
	ctx := ContextWithTx(context.Background(), stub)

	boom := errors.New("boom")
	err := RunInTx(ctx, nil, func(ctx context.Context, tx pgx.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, stub.rollbacks, "the coordinator decides the rollback")
}

func TestQuerierFromPrefersAmbientTransaction(t *testing.T) {
	stub := &stubTx{}
	ctx := ContextWithTx(context.Background(), stub)

	q := QuerierFrom(ctx, nil)
	got, ok := q.(*stubTx)
	require.True(t, ok)
	require.Same(t, stub, got)

	_, isPool := QuerierFrom(context.Background(), (*pgxpool.Pool)(nil)).(*pgxpool.Pool)
	require.True(t, isPool)
}
