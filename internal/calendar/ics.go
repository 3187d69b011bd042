// Package calendar exports rules and their occurrences as iCalendar data
// so they can be subscribed to from any calendar client.
package calendar

import (
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/civil"
	"github.com/emersion/go-ical"

	"ricorrenze/internal/core"
	"ricorrenze/internal/recurrence"
)

const productID = "-//ricorrenze//NONSGML v1.0//EN"

// ContentType is the media type of the encoded calendars.
const ContentType = "text/calendar; charset=utf-8"

func newCalendar(name string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	if name != "" {
		cal.Props.SetText("X-WR-CALNAME", name)
	}
	return cal
}

// EncodeOccurrences writes one all-day event per occurrence.
func EncodeOccurrences(w io.Writer, name string, occurrences []recurrence.Occurrence, stamp time.Time) error {
	cal := newCalendar(name)
	for _, occ := range occurrences {
		event := newEvent(OccurrenceUID(occ.RuleID, occ.Date), occ.Date, stamp)
		setPayload(event, occ.Description, occ.Amount, occ.Type, occ.CategoryID)
		cal.Children = append(cal.Children, event.Component)
	}
	return encode(w, cal)
}

// EncodeRules writes one recurring event per rule whose schedule RRule can
// express. The other rules are returned so the caller can fall back to
// expanded occurrences.
func EncodeRules(w io.Writer, name string, rules []core.RecurringRule, stamp time.Time) ([]core.RecurringRule, error) {
	cal := newCalendar(name)
	var skipped []core.RecurringRule
	for _, rule := range rules {
		opt, ok := RRule(rule)
		if !ok {
			skipped = append(skipped, rule)
			continue
		}
		event := newEvent(RuleUID(rule.ID), SeriesStart(opt), stamp)
		setPayload(event, rule.Description, rule.Amount, rule.Type, rule.CategoryID)

		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.SetValueType(ical.ValueRecurrence)
		prop.Value = RRuleValue(opt)
		event.Props.Set(prop)

		cal.Children = append(cal.Children, event.Component)
	}
	if err := encode(w, cal); err != nil {
		return nil, err
	}
	return skipped, nil
}

func OccurrenceUID(ruleID string, on civil.Date) string {
	return fmt.Sprintf("%s-%s@ricorrenze", ruleID, on.String())
}

func RuleUID(ruleID string) string {
	return ruleID + "@ricorrenze"
}

func newEvent(uid string, on civil.Date, stamp time.Time) *ical.Event {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	event.Props.SetDate(ical.PropDateTimeStart, on.In(time.UTC))
	event.Props.SetDate(ical.PropDateTimeEnd, on.AddDays(1).In(time.UTC))
	event.Props.SetText(ical.PropTransparency, "TRANSPARENT")
	return event
}

func setPayload(event *ical.Event, description string, amount core.Money, typ core.TransactionType, category string) {
	sign := "-"
	if typ == core.Income {
		sign = "+"
	}
	event.Props.SetText(ical.PropSummary, fmt.Sprintf("%s %s%s", description, sign, amount.String()))
	if category != "" {
		event.Props.SetText(ical.PropCategories, category)
	}
}

func encode(w io.Writer, cal *ical.Calendar) error {
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}
