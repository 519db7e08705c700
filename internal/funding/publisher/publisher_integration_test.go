//go:build integration

package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"
	"github.com/twmb/franz-go/pkg/kgo"

	"fundpool/internal/funding/models"
	"fundpool/internal/platform/kafka"
	"fundpool/pkg/testutil/containers"
)

type PublisherIntegrationSuite struct {
	suite.Suite
	broker string
}

func TestPublisherIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PublisherIntegrationSuite))
}

func (s *PublisherIntegrationSuite) SetupSuite() {
	s.broker = containers.GetManager().GetKafka(s.T()).Broker
}

func (s *PublisherIntegrationSuite) TestContributionRecordedReachesTopic() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := kafka.Config{Brokers: []string{s.broker}, Topic: "fundpool.events.test"}
	producer, err := kafka.NewProducer(cfg)
	s.Require().NoError(err)
	defer producer.Close()
	s.Require().NoError(kafka.EnsureTopic(ctx, producer, cfg))
	s.Require().NoError(kafka.EnsureTopic(ctx, producer, cfg), "existing topic is not an error")

	contributor := models.MustPrincipal("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	pub := New(producer, cfg.Topic)
	pub.ContributionRecorded(ctx, models.Contribution{
		ID:          uuid.New(),
		Contributor: contributor,
		Amount:      decimal.RequireFromString("0.1"),
		Timestamp:   time.Now(),
	})
	s.Require().NoError(producer.Flush(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollRecords(ctx, 1)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().Len(records, 1)

	s.Equal(contributor.String(), string(records[0].Key))
	s.Equal(EventContributionRecorded, gjson.GetBytes(records[0].Value, "type").String())
	s.Equal("0.1", gjson.GetBytes(records[0].Value, "amount").String())
}
