package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDriverRepoTest(t *testing.T) (*DriverRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	t.Cleanup(func() { sqlxDB.Close() })

	return &DriverRepo{db: sqlxDB}, mock
}

func TestGetDriver(t *testing.T) {
	testCases := []struct {
		name       string
		mockSetup  func(mock sqlmock.Sqlmock)
		assertFunc func(t *testing.T, driver *models.DriverRecord, err error)
	}{
		{
			name: "Success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "full_name", "vehicle_type", "vehicle_plate"}).
					AddRow(driverID.String(), "Budi", "motorcycle", nil)
				mock.ExpectQuery("^SELECT id, full_name, vehicle_type, vehicle_plate FROM drivers WHERE id").
					WithArgs(driverID).
					WillReturnRows(rows)
			},
			assertFunc: func(t *testing.T, driver *models.DriverRecord, err error) {
				require.NoError(t, err)
				require.NotNil(t, driver)
				assert.Equal(t, "Budi", *driver.FullName)
				assert.Equal(t, "motorcycle", *driver.VehicleType)
				assert.Nil(t, driver.VehiclePlate)
			},
		},
		{
			name: "Driver Not Found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("^SELECT id, full_name, vehicle_type, vehicle_plate FROM drivers WHERE id").
					WithArgs(driverID).
					WillReturnError(sql.ErrNoRows)
			},
			assertFunc: func(t *testing.T, driver *models.DriverRecord, err error) {
				assert.NoError(t, err)
				assert.Nil(t, driver)
			},
		},
		{
			name: "Database Error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("^SELECT id, full_name, vehicle_type, vehicle_plate FROM drivers WHERE id").
					WithArgs(driverID).
					WillReturnError(errors.New("database error"))
			},
			assertFunc: func(t *testing.T, driver *models.DriverRecord, err error) {
				assert.Error(t, err)
				assert.Nil(t, driver)
				assert.Contains(t, err.Error(), "failed to get driver")
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Setup
			repo, mock := setupDriverRepoTest(t)
			tc.mockSetup(mock)

			// Execute
			driver, err := repo.GetDriver(context.Background(), driverID)

			// Assert
			tc.assertFunc(t, driver, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetLegacyUser(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo, mock := setupDriverRepoTest(t)
		rows := sqlmock.NewRows([]string{"id", "fullname", "vehicle_type", "vehicle_plate"}).
			AddRow(driverID.String(), "Budi Santoso", nil, "D 55 AB")
		mock.ExpectQuery("^SELECT id, fullname, vehicle_type, vehicle_plate FROM users WHERE id = \\$1 AND role = 'driver'").
			WithArgs(driverID).
			WillReturnRows(rows)

		user, err := repo.GetLegacyUser(context.Background(), driverID)

		require.NoError(t, err)
		assert.Equal(t, "Budi Santoso", *user.FullName)
		assert.Nil(t, user.VehicleType)
		assert.Equal(t, "D 55 AB", *user.VehiclePlate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		repo, mock := setupDriverRepoTest(t)
		mock.ExpectQuery("^SELECT id, fullname").
			WillReturnError(sql.ErrNoRows)

		user, err := repo.GetLegacyUser(context.Background(), driverID)

		assert.NoError(t, err)
		assert.Nil(t, user)
	})
}
