//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/pkg/logger"
)

// PostgresKeyRepositoryTestSuite runs the key repository cases against a real Postgres.
type PostgresKeyRepositoryTestSuite struct {
	KeyRepositoryTestSuite
	container *tcpostgres.PostgresContainer
	dsn       string
}

func TestPostgresKeyRepositoryTestSuite(t *testing.T) {
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}
	suite.Run(t, new(PostgresKeyRepositoryTestSuite))
}

func (s *PostgresKeyRepositoryTestSuite) SetupSuite() {
	ctx := context.Background()
	c, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("custody"),
		tcpostgres.WithUsername("custody"),
		tcpostgres.WithPassword("custody"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	s.Require().NoError(err)
	s.container = c

	s.dsn, err = c.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
}

func (s *PostgresKeyRepositoryTestSuite) TearDownSuite() {
	if s.container != nil {
		s.NoError(s.container.Terminate(context.Background()))
	}
}

func (s *PostgresKeyRepositoryTestSuite) SetupTest() {
	s.ctx = context.Background()
	db, err := OpenDatabase(s.ctx, config.DatabaseConfig{Driver: "postgres", DSN: s.dsn, MaxConns: 8}, logger.NewNoopLogger())
	s.Require().NoError(err)
	s.Require().NoError(db.Exec("DELETE FROM " + keyModel{}.TableName()).Error)
	s.db = db
	s.repo = NewKeyRepository(db)
}
