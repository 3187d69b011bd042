package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ricorrenze/internal/core"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/services"
	"ricorrenze/internal/storage"
	"ricorrenze/internal/timeutil"
)

// seed creates one weekly rule starting start and returns its id.
func seed(t *testing.T, dbPath string, start civil.Date) string {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(dbPath)
	require.NoError(t, err)
	defer repo.Close()

	clock := timeutil.New(timeutil.WithLocation(time.UTC))
	service := services.NewRuleService(repo, recurrence.New(clock, recurrence.Options{}), clock, nil, services.RuleServiceConfig{})
	rule, err := service.CreateRule(context.Background(), services.RuleInput{
		OwnerID:     "owner-1",
		Amount:      core.Money{Cents: 1250},
		Description: "Palestra",
		CategoryID:  "sport",
		Type:        core.Expense,
		Interval:    core.Weekly,
		StartDate:   start,
		End:         core.Never(),
	})
	require.NoError(t, err)
	return rule.ID
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{out: &out}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	a.close()
	return out.String(), err
}

func exitCode(err error) int {
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	if err != nil {
		return 1
	}
	return 0
}

func setup(t *testing.T) (string, civil.Date) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ctl.db")
	t.Setenv("SQLITE_DB_PATH", dbPath)
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("AMQP_URL", "")
	t.Setenv("RICORRENZE_OWNER", "")

	start := civil.DateOf(time.Now().UTC()).AddDays(10)
	return seed(t, dbPath, start), start
}

func TestRulesAndNext(t *testing.T) {
	id, start := setup(t)

	out, err := run(t, "rules", "--owner", "owner-1", "--json")
	require.NoError(t, err)
	var rules []ruleView
	require.NoError(t, json.Unmarshal([]byte(out), &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, id, rules[0].ID)
	assert.Equal(t, start.String(), rules[0].NextOccurrence)
	assert.Equal(t, "12.50", rules[0].Amount)

	out, err = run(t, "next", id, "--owner", "owner-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Palestra")
	assert.Contains(t, out, start.String())
}

func TestMaterializeSkipAndPause(t *testing.T) {
	id, start := setup(t)

	out, err := run(t, "materialize", id, "--owner", "owner-1", "--json")
	require.NoError(t, err)
	var mat materializeView
	require.NoError(t, json.Unmarshal([]byte(out), &mat))
	assert.Equal(t, "materialized", mat.Outcome)
	assert.Equal(t, start.String(), mat.Date)
	assert.Equal(t, start.AddDays(7).String(), mat.Rule.NextOccurrence)

	out, err = run(t, "skip", id, "--owner", "owner-1", "--json")
	require.NoError(t, err)
	var skipped skipView
	require.NoError(t, json.Unmarshal([]byte(out), &skipped))
	assert.Equal(t, start.AddDays(7).String(), skipped.Skipped)
	assert.False(t, skipped.Ended)

	_, err = run(t, "pause", id, "--owner", "owner-1")
	require.NoError(t, err)

	_, err = run(t, "skip", id, "--owner", "owner-1")
	assert.Equal(t, 5, exitCode(err))

	out, err = run(t, "materialize", id, "--owner", "owner-1", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &mat))
	assert.Equal(t, "paused", mat.Outcome)
	assert.Empty(t, mat.TransactionID)
}

func TestUpcoming(t *testing.T) {
	id, start := setup(t)

	out, err := run(t, "upcoming", "--owner", "owner-1", "--until", start.AddDays(14).String(), "--json")
	require.NoError(t, err)
	var view upcomingView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Occurrences, 3)
	assert.Equal(t, id, view.Occurrences[0].RuleID)
	assert.Equal(t, "37.50", view.Expense)
	assert.Equal(t, "-37.50", view.Net)

	_, err = run(t, "upcoming", "--owner", "owner-1", "--until", "31/12/2030")
	assert.Equal(t, 2, exitCode(err))

	out, err = run(t, "upcoming", id, "--owner", "owner-1", "--until", start.AddDays(14).String(), "--by", "week", "--json")
	require.NoError(t, err)
	view = upcomingView{}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Periods, 3)
	for _, p := range view.Periods {
		assert.Equal(t, 1, p.Count)
		assert.Equal(t, "-12.50", p.Net)
	}

	out, err = run(t, "upcoming", "--owner", "owner-1", "--until", start.AddDays(14).String(), "--by", "year")
	require.NoError(t, err)
	assert.Contains(t, out, "EXPENSE")

	_, err = run(t, "upcoming", "--owner", "owner-1", "--by", "fortnight")
	assert.Equal(t, 2, exitCode(err))
}

func TestDeleteScopes(t *testing.T) {
	id, _ := setup(t)

	_, err := run(t, "delete", "--owner", "owner-1", "--scope", "sometimes", id)
	assert.Equal(t, 2, exitCode(err))

	out, err := run(t, "delete", id, "--owner", "owner-1", "--json")
	require.NoError(t, err)
	var del deleteView
	require.NoError(t, json.Unmarshal([]byte(out), &del))
	assert.Equal(t, "future", del.Scope)
	require.NotNil(t, del.Rule)
	assert.Equal(t, "ended", del.Rule.Status)

	_, err = run(t, "delete", id, "--owner", "owner-1", "--scope", "all")
	require.NoError(t, err)

	_, err = run(t, "next", id, "--owner", "owner-1")
	assert.Equal(t, 4, exitCode(err))
}

func TestRequiresOwner(t *testing.T) {
	setup(t)

	_, err := run(t, "rules")
	assert.Equal(t, 2, exitCode(err))
}

func TestProcess(t *testing.T) {
	setup(t)

	out, err := run(t, "process", "--json")
	require.NoError(t, err)
	var report processView
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Materialized)
}
