// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dbrouter

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/nlsql-oss/queryorch/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Connect opens the real godror driver, which isn't registered in a test
// binary, so these tests inject a sqlmock-backed *sql.DB directly into the
// unexported field rather than exercising Connect.

func TestOracleProcessClient_ExecuteSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "status"}).
		AddRow(1, []byte("OPEN")).
		AddRow(2, "CLOSED")
	mock.ExpectQuery("SELECT id, status FROM tickets").WillReturnRows(rows)

	c := &OracleProcessClient{db: db}
	result, err := c.ExecuteSQL(context.Background(), "SELECT id, status FROM tickets")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "status"}, result.Columns)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, "OPEN", result.Rows[0][1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOracleProcessClient_ExecuteSQL_NotConnected(t *testing.T) {
	c := &OracleProcessClient{dsn: "unused"}
	_, err := c.ExecuteSQL(context.Background(), "SELECT 1")
	assert.Error(t, err)
}

func TestOracleProcessClient_Healthy_NotConnected(t *testing.T) {
	c := &OracleProcessClient{dsn: "unused"}
	assert.False(t, c.Healthy(context.Background()))
}

func TestOracleProcessClient_Healthy_Connected(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	c := &OracleProcessClient{db: db}
	assert.True(t, c.Healthy(context.Background()))
}

func TestOracleProcessClient_Close_NotConnectedIsNoop(t *testing.T) {
	c := &OracleProcessClient{dsn: "unused"}
	assert.NoError(t, c.Close())
}

func TestNewOracleProcessClientFactory_ReturnsPoolClient(t *testing.T) {
	factory := NewOracleProcessClientFactory("oracle://dsn")
	client := factory("slot-1")
	var _ pool.Client = client
	assert.NotNil(t, client)
}
