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

func newMockTokenStore(t *testing.T) (*tokenStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &tokenStore{db: db}, mock
}

func TestTokenStore_Consume_AtomicUpdateWithWhereGuards(t *testing.T) {
	store, mock := newMockTokenStore(t)
	expiresAt := time.Now().Add(time.Hour)

	mock.ExpectQuery("SELECT fingerprint, expires_at, max_uses, used_count").
		WithArgs("fp-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"fingerprint", "expires_at", "max_uses", "used_count",
			"restricted_to_group", "restricted_to_location", "restricted_to_mac", "is_active",
		}).AddRow("fp-1", expiresAt, 3, 0, "", "", "", 1))

	mock.ExpectExec("UPDATE registration_tokens").
		WithArgs("fp-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := store.Consume(context.Background(), "fp-1")
	require.NoError(t, err)
	assert.True(t, res.Consumed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenStore_Consume_ExhaustedWhenUpdateAffectsNoRows(t *testing.T) {
	store, mock := newMockTokenStore(t)
	expiresAt := time.Now().Add(time.Hour)

	mock.ExpectQuery("SELECT fingerprint, expires_at, max_uses, used_count").
		WithArgs("fp-2").
		WillReturnRows(sqlmock.NewRows([]string{
			"fingerprint", "expires_at", "max_uses", "used_count",
			"restricted_to_group", "restricted_to_location", "restricted_to_mac", "is_active",
		}).AddRow("fp-2", expiresAt, 1, 1, "", "", "", 1))

	mock.ExpectExec("UPDATE registration_tokens").
		WithArgs("fp-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := store.Consume(context.Background(), "fp-2")
	require.NoError(t, err)
	assert.False(t, res.Consumed)
	assert.Equal(t, "exhausted", res.Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenStore_Consume_NotFound(t *testing.T) {
	store, mock := newMockTokenStore(t)

	mock.ExpectQuery("SELECT fingerprint, expires_at, max_uses, used_count").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"fingerprint", "expires_at", "max_uses", "used_count",
			"restricted_to_group", "restricted_to_location", "restricted_to_mac", "is_active",
		}))

	res, err := store.Consume(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, res.Consumed)
	assert.Equal(t, "not_found", res.Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenStore_Create_InsertsAllColumns(t *testing.T) {
	store, mock := newMockTokenStore(t)

	tk := &model.RegistrationToken{
		Fingerprint: "fp-3", ExpiresAt: time.Now().Add(time.Hour), MaxUses: 5,
		RestrictedToGroup: "lobby", IsActive: true,
	}
	mock.ExpectExec("INSERT INTO registration_tokens").
		WithArgs(tk.Fingerprint, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			tk.RestrictedToGroup, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Create(context.Background(), tk))
	require.NoError(t, mock.ExpectationsWereMet())
}
