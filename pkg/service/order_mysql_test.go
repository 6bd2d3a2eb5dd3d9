package service

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/example/smartcart/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockMySQL(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db, mock
}

func productRows(stock int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "price", "category", "stock"}).
		AddRow(1, "Red Apples", "2.59", "fruits", stock)
}

func TestPlaceOrderLocksProductRowsOnMySQL(t *testing.T) {
	db, mock := newMockMySQL(t)
	svc := NewOrderService(db, nil, nil, nil, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `products` WHERE id IN \\(\\?\\) ORDER BY id FOR UPDATE").
		WithArgs(1).
		WillReturnRows(productRows(1))
	mock.ExpectRollback()

	_, err := svc.PlaceItems(context.Background(), 7, []OrderLine{{ProductID: 1, Quantity: 3, ExpectedPrice: price("2.59")}}, "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderGuardedDecrementRollsBack(t *testing.T) {
	db, mock := newMockMySQL(t)
	svc := NewOrderService(db, nil, nil, nil, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `products` WHERE id IN \\(\\?\\) ORDER BY id FOR UPDATE").
		WithArgs(1).
		WillReturnRows(productRows(5))
	mock.ExpectExec("INSERT INTO `orders`").WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec("INSERT INTO `order_items`").WillReturnResult(sqlmock.NewResult(20, 1))
	mock.ExpectExec("UPDATE `products` SET `stock`=stock - \\?.* WHERE id = \\? AND stock >= \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.PlaceItems(context.Background(), 7, []OrderLine{{ProductID: 1, Quantity: 3, ExpectedPrice: price("2.59")}}, "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderCommitsOnMySQL(t *testing.T) {
	db, mock := newMockMySQL(t)
	svc := NewOrderService(db, nil, nil, nil, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `products` WHERE id IN \\(\\?\\) ORDER BY id FOR UPDATE").
		WithArgs(1).
		WillReturnRows(productRows(5))
	mock.ExpectExec("INSERT INTO `orders`").WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec("INSERT INTO `order_items`").WillReturnResult(sqlmock.NewResult(20, 1))
	mock.ExpectExec("UPDATE `products` SET `stock`=stock - \\?").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	placed, err := svc.PlaceItems(context.Background(), 7, []OrderLine{{ProductID: 1, Quantity: 3, ExpectedPrice: price("2.59")}}, "")
	require.NoError(t, err)
	assert.EqualValues(t, 10, placed.OrderID)
	assert.Equal(t, "7.77", placed.Total.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}
