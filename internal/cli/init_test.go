package cli

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ricorrenze/internal/amqp"
	"ricorrenze/internal/config"
	applog "ricorrenze/internal/log"
	"ricorrenze/internal/storage"
	"ricorrenze/internal/timeutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Setenv("SQLITE_DB_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("WEEK_START", "sunday")
	t.Setenv("RANGE_CACHE_SIZE", "8")
	t.Setenv("PROJECTION_HORIZON_DAYS", "30")
	cfg := config.Load()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewEngine(t *testing.T) {
	cfg := testConfig(t)
	logger := SetupLogger(applog.ComponentCLI)
	assert.Equal(t, applog.ComponentCLI, logger.Component())

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	require.NoError(t, err)
	defer repo.Close()

	var client *amqp.Client
	engine, err := NewEngine(logger, cfg, repo, client)
	require.NoError(t, err)
	defer engine.Close()

	assert.Equal(t, time.UTC, engine.Clock.Location())
	today := engine.Rules.Today()
	assert.Equal(t, today.AddDays(30), engine.Rules.DefaultHorizon())

	week := engine.Clock.WeekRange(today)
	assert.Equal(t, time.Sunday, timeutil.Weekday(week.Start))
}

func TestNewEngine_RejectsBadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Timezone = "Nowhere/Special"

	_, err := NewEngine(SetupLogger(applog.ComponentCLI), cfg, nil, nil)
	assert.Error(t, err)
}
