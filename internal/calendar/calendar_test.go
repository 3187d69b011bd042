package calendar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"ricorrenze/internal/core"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/timeutil"
)

func day(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func rule(interval core.IntervalType, start civil.Date, dom mo.Option[int], end core.EndCondition) core.RecurringRule {
	return core.RecurringRule{
		ID:          "rule-1",
		OwnerID:     "owner-1",
		Amount:      core.Money{Cents: 1500},
		Description: "Abbonamento",
		CategoryID:  "svago",
		Type:        core.Expense,
		Interval:    interval,
		DayOfMonth:  dom,
		StartDate:   start,
		End:         end,
		State:       core.NewRuleState(),
	}
}

func TestRRule_Expressible(t *testing.T) {
	tests := []struct {
		name string
		rule core.RecurringRule
		ok   bool
	}{
		{"daily", rule(core.Daily, day(2024, 1, 30), mo.None[int](), core.Never()), true},
		{"weekly with count", rule(core.Weekly, day(2024, 2, 29), mo.None[int](), core.AfterCount(4)), true},
		{"monthly on 15th", rule(core.Monthly, day(2024, 1, 15), mo.Some(15), core.OnDate(day(2024, 12, 31))), true},
		{"monthly without anchor", rule(core.Monthly, day(2024, 3, 10), mo.None[int](), core.Never()), true},
		{"monthly clamps", rule(core.Monthly, day(2024, 1, 31), mo.Some(31), core.Never()), false},
		{"monthly off-anchor start", rule(core.Monthly, day(2024, 1, 10), mo.Some(1), core.Never()), false},
		{"yearly leap day", rule(core.Yearly, day(2024, 2, 29), mo.None[int](), core.Never()), false},
		{"unknown interval", rule("hourly", day(2024, 1, 1), mo.None[int](), core.Never()), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := RRule(tt.rule)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestRRule_String(t *testing.T) {
	opt, ok := RRule(rule(core.Weekly, day(2024, 1, 1), mo.None[int](), core.AfterCount(4)))
	require.True(t, ok)
	s := opt.RRuleString()
	assert.Contains(t, s, "FREQ=WEEKLY")
	assert.Contains(t, s, "COUNT=4")
}

// The projection and an RRULE engine must agree on every schedule that
// RRule claims to express.
func TestRRule_MatchesProjection(t *testing.T) {
	projector := recurrence.New(timeutil.New(timeutil.WithLocation(time.UTC)), recurrence.Options{})
	horizon := day(2026, 12, 31)

	rules := []core.RecurringRule{
		rule(core.Daily, day(2024, 2, 20), mo.None[int](), core.AfterCount(30)),
		rule(core.Weekly, day(2024, 2, 29), mo.None[int](), core.OnDate(day(2025, 3, 1))),
		rule(core.Monthly, day(2024, 1, 15), mo.Some(15), core.Never()),
		rule(core.Monthly, day(2023, 11, 28), mo.None[int](), core.AfterCount(20)),
		rule(core.Yearly, day(2024, 3, 1), mo.None[int](), core.Never()),
	}

	for _, r := range rules {
		t.Run(string(r.Interval)+"-"+r.StartDate.String(), func(t *testing.T) {
			opt, ok := RRule(r)
			require.True(t, ok)
			rr, err := rrule.NewRRule(opt)
			require.NoError(t, err)

			var want []civil.Date
			for _, ts := range rr.Between(r.StartDate.In(time.UTC), horizon.In(time.UTC), true) {
				want = append(want, civil.DateOf(ts.UTC()))
			}

			occs, err := projector.Upcoming(r, horizon)
			require.NoError(t, err)
			var got []civil.Date
			for _, o := range occs {
				got = append(got, o.Date)
			}

			require.NotEmpty(t, got)
			assert.Equal(t, want, got)
		})
	}
}

// After occurrences are consumed the series must still list exactly what
// the projection has left.
func TestRRule_FollowsRuleState(t *testing.T) {
	projector := recurrence.New(timeutil.New(timeutil.WithLocation(time.UTC)), recurrence.Options{})
	horizon := day(2026, 12, 31)
	newID := func() string { return "tx" }

	skipFirst := func(r core.RecurringRule) core.RecurringRule {
		res, err := projector.Skip(r)
		require.NoError(t, err)
		r.State = res.Next
		return r
	}
	materializeThenSkip := func(r core.RecurringRule) core.RecurringRule {
		m, err := projector.Materialize(r, newID)
		require.NoError(t, err)
		r.State = m.Next
		return skipFirst(r)
	}

	tests := []struct {
		name    string
		rule    core.RecurringRule
		advance func(core.RecurringRule) core.RecurringRule
		start   civil.Date
	}{
		{"monthly count after skip", rule(core.Monthly, day(2024, 1, 1), mo.Some(1), core.AfterCount(3)), skipFirst, day(2024, 2, 1)},
		{"weekly until after materialize and skip", rule(core.Weekly, day(2024, 1, 1), mo.None[int](), core.OnDate(day(2024, 3, 1))), materializeThenSkip, day(2024, 1, 15)},
		{"daily count after materialize and skip", rule(core.Daily, day(2024, 1, 1), mo.None[int](), core.AfterCount(5)), materializeThenSkip, day(2024, 1, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.advance(tt.rule)
			opt, ok := RRule(r)
			require.True(t, ok)
			assert.Equal(t, tt.start, SeriesStart(opt))

			rr, err := rrule.NewRRule(opt)
			require.NoError(t, err)
			var want []civil.Date
			for _, ts := range rr.Between(r.StartDate.In(time.UTC), horizon.In(time.UTC), true) {
				want = append(want, civil.DateOf(ts.UTC()))
			}

			occs, err := projector.Upcoming(r, horizon)
			require.NoError(t, err)
			var got []civil.Date
			for _, o := range occs {
				got = append(got, o.Date)
			}
			require.NotEmpty(t, got)
			assert.Equal(t, got, want)
		})
	}
}

func TestRRule_NothingLeft(t *testing.T) {
	r := rule(core.Weekly, day(2024, 1, 1), mo.None[int](), core.AfterCount(2))
	r.State.Generated = 2
	r.State.LastGenerated = mo.Some(day(2024, 1, 8))
	_, ok := RRule(r)
	assert.False(t, ok)

	r = rule(core.Weekly, day(2024, 1, 1), mo.None[int](), core.OnDate(day(2024, 1, 10)))
	r.State.LastGenerated = mo.Some(day(2024, 1, 8))
	_, ok = RRule(r)
	assert.False(t, ok)

	r = rule(core.Daily, day(2024, 1, 1), mo.None[int](), core.Never())
	r.State.Ended = true
	_, ok = RRule(r)
	assert.False(t, ok)
}

func TestRRuleValue_UntilIsDate(t *testing.T) {
	opt, ok := RRule(rule(core.Monthly, day(2024, 1, 15), mo.Some(15), core.OnDate(day(2024, 12, 31))))
	require.True(t, ok)

	value := RRuleValue(opt)
	assert.Contains(t, value, "UNTIL=20241231")
	assert.NotContains(t, value, "T000000Z")

	parsed, err := rrule.StrToROption(value)
	require.NoError(t, err)
	parsed.Dtstart = opt.Dtstart
	rr, err := rrule.NewRRule(*parsed)
	require.NoError(t, err)
	all := rr.All()
	require.Len(t, all, 12)
	assert.Equal(t, day(2024, 12, 15), civil.DateOf(all[11].UTC()))
}

func TestEncodeOccurrences(t *testing.T) {
	occs := []recurrence.Occurrence{
		{RuleID: "rule-1", Date: day(2024, 4, 1), Amount: core.Money{Cents: 95000}, Description: "Affitto", CategoryID: "casa", Type: core.Expense},
		{RuleID: "rule-2", Date: day(2024, 4, 27), Amount: core.Money{Cents: 200000}, Description: "Stipendio", Type: core.Income},
	}
	stamp := time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, EncodeOccurrences(&buf, "Ricorrenze", occs, stamp))
	assert.True(t, strings.HasPrefix(buf.String(), "BEGIN:VCALENDAR"))

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	uid, err := events[0].Props.Text(ical.PropUID)
	require.NoError(t, err)
	assert.Equal(t, "rule-1-2024-04-01@ricorrenze", uid)

	summary, err := events[0].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Affitto -950.00", summary)

	summary, err = events[1].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Stipendio +2000.00", summary)

	start := events[1].Props.Get(ical.PropDateTimeStart)
	require.NotNil(t, start)
	assert.Equal(t, "20240427", start.Value)
}

func TestEncodeRules_SkipsInexpressible(t *testing.T) {
	rules := []core.RecurringRule{
		rule(core.Monthly, day(2024, 1, 15), mo.Some(15), core.Never()),
		rule(core.Monthly, day(2024, 1, 31), mo.Some(31), core.Never()),
	}
	rules[1].ID = "rule-2"

	var buf bytes.Buffer
	skipped, err := EncodeRules(&buf, "", rules, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "rule-2", skipped[0].ID)

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)
	rr := events[0].Props.Get(ical.PropRecurrenceRule)
	require.NotNil(t, rr)
	assert.Contains(t, rr.Value, "FREQ=MONTHLY")
}

func TestEncodeRules_StartsAtPendingOccurrence(t *testing.T) {
	r := rule(core.Monthly, day(2024, 1, 1), mo.Some(1), core.AfterCount(3))
	r.State.LastGenerated = mo.Some(day(2024, 1, 1))

	var buf bytes.Buffer
	skipped, err := EncodeRules(&buf, "", []core.RecurringRule{r}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Empty(t, skipped)

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "20240201", events[0].Props.Get(ical.PropDateTimeStart).Value)
	assert.Contains(t, events[0].Props.Get(ical.PropRecurrenceRule).Value, "COUNT=3")
}
