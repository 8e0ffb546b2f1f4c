package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinesignage/fleetd/internal/model"
)

func newMockClientStore(t *testing.T) (*clientStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &clientStore{db: db}, mock
}

func clientColumns() []string {
	return []string{"id", "name", "mac_address", "ip_address", "hostname", "group_name",
		"location", "status", "last_seen_at", "assigned_layout_id", "device_info", "metadata"}
}

func TestClientStore_Get_NotFoundReturnsNilNil(t *testing.T) {
	store, mock := newMockClientStore(t)
	mock.ExpectQuery("SELECT id, name, mac_address").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(clientColumns()))

	c, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, c)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientStore_Get_DecodesDeviceInfoAndAssignedLayout(t *testing.T) {
	store, mock := newMockClientStore(t)
	now := time.Now()
	mock.ExpectQuery("SELECT id, name, mac_address").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(clientColumns()).AddRow(
			"c1", "Lobby Display", "AA:BB:CC", "10.0.0.1", "lobby-01", "lobby", "Building A",
			string(model.ClientOnline), now, "layout-1", `{"model":"x1"}`, `{"floor":"1"}`))

	c, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "AA:BB:CC", c.MacAddress)
	require.NotNil(t, c.AssignedLayoutID)
	assert.Equal(t, "layout-1", *c.AssignedLayoutID)
	assert.Equal(t, "x1", c.DeviceInfo["model"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientStore_Upsert_UsesOnConflictUpdate(t *testing.T) {
	store, mock := newMockClientStore(t)
	c := &model.Client{ID: "c2", Name: "Kiosk", Status: model.ClientOnline}

	mock.ExpectExec("INSERT INTO clients").
		WithArgs(c.ID, c.Name, nil, c.IPAddress, c.Hostname, c.Group, c.Location,
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil, "null", "null").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Upsert(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClientStore_UpdateStatus(t *testing.T) {
	store, mock := newMockClientStore(t)
	now := time.Now()

	mock.ExpectExec("UPDATE clients SET status").
		WithArgs(sqlmock.AnyArg(), "null", now, "c3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateStatus(context.Background(), "c3", model.ClientOffline, nil, now))
	require.NoError(t, mock.ExpectationsWereMet())
}
