//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlr/fraud-service/internal/decision"
	"github.com/settlr/fraud-service/internal/rules"
	"github.com/settlr/fraud-service/internal/testutil"
)

func pgDecision(id, eventID, entityID string, verdict decision.Verdict, score float64) *decision.Decision {
	return &decision.Decision{
		ID:       id,
		EventID:  eventID,
		EntityID: entityID,
		Verdict:  verdict,
		Score: rules.RiskScore{
			Value: score,
			Contributions: []rules.Contribution{
				{Rule: "hourly_velocity", Contribution: 1.1, Weight: 25},
			},
			Flags: []string{"state_unavailable"},
		},
		DecidedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestPostgresStore_RecordAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	dec := pgDecision("dec_pg1", "evt_pg1", "ent_pg1", decision.Block, 95)
	require.NoError(t, store.Record(ctx, dec))

	got, err := store.Get(ctx, "dec_pg1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, dec.EventID, got.EventID)
	assert.Equal(t, decision.Block, got.Verdict)
	assert.Equal(t, 95.0, got.Score.Value)
	require.Len(t, got.Score.Contributions, 1)
	assert.Equal(t, "hourly_velocity", got.Score.Contributions[0].Rule)
	assert.Equal(t, []string{"state_unavailable"}, got.Score.Flags)
}

func TestPostgresStore_GetMissing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)

	got, err := store.Get(context.Background(), "dec_missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgresStore_DuplicateEventIDIgnored(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	first := pgDecision("dec_pg2", "evt_pg2", "ent_pg2", decision.Allow, 10)
	replay := pgDecision("dec_pg2_replay", "evt_pg2", "ent_pg2", decision.Review, 60)

	require.NoError(t, store.Record(ctx, first))
	require.NoError(t, store.Record(ctx, replay), "replays must be swallowed, not errored")

	got, err := store.Get(ctx, "dec_pg2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, decision.Allow, got.Verdict, "original decision must win")

	gone, err := store.Get(ctx, "dec_pg2_replay")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestPostgresStore_ListByEntity(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		dec := pgDecision(
			"dec_list_"+string(rune('a'+i)),
			"evt_list_"+string(rune('a'+i)),
			"ent_list", decision.Allow, float64(i),
		)
		dec.DecidedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Record(ctx, dec))
	}

	decisions, err := store.ListByEntity(ctx, "ent_list", 2)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	// Most recent first
	assert.Equal(t, "dec_list_c", decisions[0].ID)
	assert.Equal(t, "dec_list_b", decisions[1].ID)
}
