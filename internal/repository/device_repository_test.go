package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edutech-rw/asset-api/internal/models"
)

func newDeviceMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func deviceRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "serial_number", "name_tag", "category", "model", "status", "condition", "school_id",
		"purchase_date", "purchase_cost", "warranty_expiry", "last_seen_at", "last_maintenance_at",
		"created_at", "updated_at",
	})
}

func TestDeviceRepositoryNextNameTagSequence(t *testing.T) {
	db, mock, cleanup := newDeviceMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO name_tag_sequences (prefix, last_seq) VALUES ($1, 1)")).
		WithArgs("RTB/LPT/GSB").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(4))

	seq, err := repo.NextNameTagSequence(context.Background(), "RTB/LPT/GSB")
	require.NoError(t, err)
	assert.EqualValues(t, 4, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceRepositoryExistingIDs(t *testing.T) {
	db, mock, cleanup := newDeviceMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM devices WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("dev-1").AddRow("dev-2"))

	found, err := repo.ExistingIDs(context.Background(), []string{"dev-1", "dev-2", "dev-3"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceRepositoryExistingIDsEmptyInput(t *testing.T) {
	db, mock, cleanup := newDeviceMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	found, err := repo.ExistingIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceRepositoryListSearch(t *testing.T) {
	db, mock, cleanup := newDeviceMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT .+ FROM devices WHERE 1=1 AND").
		WithArgs("%rtb%").
		WillReturnRows(deviceRows().AddRow(
			"dev-1", "SN-001", "RTB/LPT/GSB/001", "LAPTOP", "ThinkPad", "ACTIVE", "GOOD", "school-1",
			now, 550.0, now, now, nil, now, now,
		))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM devices WHERE 1=1")).
		WithArgs("%rtb%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	devices, total, err := repo.List(context.Background(), models.DeviceFilter{Search: "RTB"})
	require.NoError(t, err)
	assert.Len(t, devices, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceRepositoryMaintenanceDue(t *testing.T) {
	db, mock, cleanup := newDeviceMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	cutoff := time.Now().AddDate(0, 0, -90)
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(last_maintenance_at, created_at) < $1")).
		WithArgs(cutoff).
		WillReturnRows(deviceRows())

	devices, err := repo.MaintenanceDue(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.NoError(t, mock.ExpectationsWereMet())
}
