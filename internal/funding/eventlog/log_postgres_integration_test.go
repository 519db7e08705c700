//go:build integration

package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fundpool/internal/funding/models"
	"fundpool/pkg/testutil/containers"
)

type PostgresLogIntegrationSuite struct {
	suite.Suite
	pg  *containers.PostgresContainer
	log *PostgresLog
}

func TestPostgresLogIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresLogIntegrationSuite))
}

func (s *PostgresLogIntegrationSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.log = NewPostgresLog(s.pg.Pool)
}

func (s *PostgresLogIntegrationSuite) SetupTest() {
	s.Require().NoError(s.pg.Reset(context.Background()))
}

func (s *PostgresLogIntegrationSuite) TestAppendAndFilter() {
	ctx := context.Background()
	alice := models.MustPrincipal("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	bob := models.MustPrincipal("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, p := range []models.Principal{alice, bob, alice} {
		rec := models.NewContribution(p, decimal.New(int64(i+1), -1), base.Add(time.Duration(i)*time.Minute))
		s.Require().NoError(s.log.Append(ctx, rec))
	}

	seq := s.log.FilterByPrincipal(ctx, alice)
	first, err := Collect(seq)
	s.Require().NoError(err)
	s.Require().Len(first, 2)
	s.Equal("0.1", first[0].Amount.String())
	s.Equal("0.3", first[1].Amount.String())

	again, err := Collect(seq)
	s.Require().NoError(err)
	s.Equal(first, again, "the sequence re-queries on each range")

	recent, err := s.log.Recent(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal("0.3", recent[0].Amount.String())
	s.Equal(bob, recent[1].Contributor)
}
