package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zkp2p/slack-liquidity-bot/pkg/config"
)

func TestSchedule(t *testing.T) {
	app := &App{
		Config: &config.Config{CronSpec: "0 0 * * * *"},
		Logger: zaptest.NewLogger(t),
	}
	require.NoError(t, app.Schedule(context.Background()))
	assert.Len(t, app.cron.Entries(), 1)

	app.Config.CronSpec = "every hour"
	assert.Error(t, app.Schedule(context.Background()))
}

func TestStopWithoutServer(t *testing.T) {
	app := &App{
		Config: &config.Config{CronSpec: "@hourly"},
		Logger: zaptest.NewLogger(t),
	}
	require.NoError(t, app.Schedule(context.Background()))
	app.cron.Start()
	app.Stop()
}
