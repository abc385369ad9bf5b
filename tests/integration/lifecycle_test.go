package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/automation"
	"homeflow/internal/backup"
	"homeflow/internal/constants"
	pkgerrors "homeflow/pkg/errors"
	"homeflow/pkg/logging"
)

func newLifecycle(t *testing.T, infra *TestInfra) (*automation.Service, *backup.Service) {
	t.Helper()
	log := createTestLogger()
	backups := backup.NewService(
		backup.NewPostgresStore(infra.PostgresDB),
		backup.NewMongoArchive(infra.MongoDB, constants.DefaultBackupCollection),
		clockwork.NewRealClock(),
		log,
	)
	svc := automation.NewService(automation.NewRepository(infra.PostgresDB), log, automation.WithBackups(backups))
	return svc, backups
}

func TestLifecycle_TransitionsAreBackedUp(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, Needs{Postgres: true, Mongo: true})
	svc, backups := newLifecycle(t, infra)
	ctx := logging.WithActor(context.Background(), "alice")

	a, err := svc.Create(ctx, automation.CreateRequest{
		Name:          "hallway-lights",
		Configuration: json.RawMessage(`{"trigger":"motion","brightness":40}`),
	})
	require.NoError(t, err)
	assert.Equal(t, automation.StateDraft, a.State)

	a, err = svc.Transition(ctx, automation.TransitionRequest{AutomationID: a.ID, To: automation.StateActive, Reason: "go live"})
	require.NoError(t, err)
	assert.Equal(t, automation.StateActive, a.State)
	assert.True(t, a.Active)

	history, err := svc.History(ctx, a.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, automation.HistoryLifecycle, last.Kind)
	assert.Equal(t, string(automation.StateDraft), last.FromState)
	assert.Equal(t, string(automation.StateActive), last.ToState)
	assert.Equal(t, "alice", last.ChangedBy)
	require.NotEmpty(t, last.BackupID)

	list, err := backups.ListForAutomation(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, last.BackupID, list[0].ID)
	assert.Equal(t, backup.TypeBeforeTransition, list[0].Type)

	// retired is terminal
	_, err = svc.Transition(ctx, automation.TransitionRequest{AutomationID: a.ID, To: automation.StateRetired, Reason: "replaced"})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, automation.TransitionRequest{AutomationID: a.ID, To: automation.StateActive})
	assert.True(t, pkgerrors.IsInvalidTransition(err))
}

func TestLifecycle_RollbackRestoresConfiguration(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, Needs{Postgres: true, Mongo: true})
	svc, backups := newLifecycle(t, infra)
	ctx := context.Background()

	a, err := svc.Create(ctx, automation.CreateRequest{
		Name:          "thermostat-night",
		Configuration: json.RawMessage(`{"target":19}`),
	})
	require.NoError(t, err)

	updated, err := svc.UpdateConfiguration(ctx, a.ID, json.RawMessage(`{"target":23}`), "warmer")
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":23}`, string(updated.Configuration))

	list, err := backups.ListForAutomation(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, backup.TypeBeforeModification, list[0].Type)

	restored, err := svc.Rollback(ctx, a.ID, list[0].ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":19}`, string(restored.Configuration))
	assert.Greater(t, restored.Version, updated.Version)

	history, err := svc.History(ctx, a.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, automation.HistoryRollback, history[len(history)-1].Kind)

	other, err := svc.Create(ctx, automation.CreateRequest{Name: "unrelated"})
	require.NoError(t, err)
	_, err = svc.Rollback(ctx, other.ID, list[0].ID)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestBackup_PrunedRowsAreServedFromArchive(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, Needs{Postgres: true, Mongo: true})
	svc, _ := newLifecycle(t, infra)
	ctx := context.Background()

	a, err := svc.Create(ctx, automation.CreateRequest{Name: "porch", Configuration: json.RawMessage(`{"on":"sunset"}`)})
	require.NoError(t, err)
	_, err = svc.UpdateConfiguration(ctx, a.ID, json.RawMessage(`{"on":"21:00"}`), "fixed time")
	require.NoError(t, err)

	store := backup.NewPostgresStore(infra.PostgresDB)
	list, err := store.ListForAutomation(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].ID

	later := backup.NewService(
		store,
		backup.NewMongoArchive(infra.MongoDB, constants.DefaultBackupCollection),
		clockwork.NewFakeClockAt(time.Now().Add(31*24*time.Hour)),
		createTestLogger(),
	)
	n, err := later.Prune(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = store.Get(ctx, id)
	assert.True(t, pkgerrors.IsNotFound(err))

	got, err := later.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.AutomationID)

	payload, err := later.Restore(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "sunset")
}

func TestBackup_PruneIsNoopWithoutArchive(t *testing.T) {
	infra := SetupTestInfra(t)
	ctx := context.Background()

	svc := automation.NewService(automation.NewRepository(infra.PostgresDB), createTestLogger())
	a, err := svc.Create(ctx, automation.CreateRequest{Name: "garage"})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, automation.TransitionRequest{AutomationID: a.ID, To: automation.StateActive})
	require.NoError(t, err)

	backups := backup.NewService(
		backup.NewPostgresStore(infra.PostgresDB),
		nil,
		clockwork.NewFakeClockAt(time.Now().Add(365*24*time.Hour)),
		createTestLogger(),
	)
	n, err := backups.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := backups.ListForAutomation(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
