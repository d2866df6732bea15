// Package report computes and renders the daily summary of the ledger.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// InsufficientDataText is rendered for a day without completed or dismissed
// instances.
const InsufficientDataText = "Not enough data for a report yet. Try again later."

// Aggregate summarizes rows, which must be the instances created on day.
// Rows may be in any order; recency is decided by id.
func Aggregate(day api.Day, rows []*api.Instance) *api.Report {
	r := &api.Report{Day: day}

	var completed []*api.Instance
	for _, row := range rows {
		switch row.State {
		case api.StateCompleted:
			completed = append(completed, row)
		case api.StateDismissed:
			r.Dismissed++
		}
	}
	if len(completed) == 0 && r.Dismissed == 0 {
		r.InsufficientData = true
		return r
	}

	sort.Slice(completed, func(i, j int) bool { return completed[i].ID < completed[j].ID })
	r.Completed = len(completed)

	byTrigger := map[api.TriggerKind]int{}
	byHandler := map[string]int{}
	byResult := map[api.Result]int{}
	for _, row := range completed {
		byTrigger[row.TriggerKind]++
		byHandler[row.HandledBy]++
		byResult[row.Result]++
	}

	for trigger, n := range byTrigger {
		r.ByTrigger = append(r.ByTrigger, api.TriggerCount{Trigger: trigger, Count: n})
	}
	sort.Slice(r.ByTrigger, func(i, j int) bool {
		a, b := r.ByTrigger[i], r.ByTrigger[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Trigger < b.Trigger
	})

	for name, n := range byHandler {
		r.ByHandler = append(r.ByHandler, api.HandlerCount{HandledBy: name, Count: n})
	}
	sort.Slice(r.ByHandler, func(i, j int) bool {
		a, b := r.ByHandler[i], r.ByHandler[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.HandledBy < b.HandledBy
	})

	for _, res := range api.Results {
		if n := byResult[res]; n > 0 {
			r.ByResult = append(r.ByResult, api.ResultCount{Result: res, Count: n})
		}
	}

	if len(completed) > 0 {
		last := completed[len(completed)-1]
		r.Last = &api.LastCompletion{HandledBy: last.HandledBy, At: last.CreatedAt, Result: last.Result}

		for i := len(completed) - 2; i >= 0; i-- {
			if completed[i].HandledBy != last.HandledBy {
				r.NextUp = completed[i].HandledBy
				break
			}
		}
	}

	return r
}

// Render formats r as plain chat text. Sections without data are omitted.
func Render(r *api.Report) string {
	if r == nil || r.InsufficientData {
		return InsufficientDataText
	}

	var sections []string

	var lines []string
	if r.Completed > 0 {
		lines = append(lines,
			"How many times was she taken out today?",
			fmt.Sprintf("  She was taken out %d time(s)", r.Completed),
		)
		for _, tc := range r.ByTrigger {
			switch tc.Trigger {
			case api.TriggerSensor:
				lines = append(lines, fmt.Sprintf("    - she rang the bell %d time(s)", tc.Count))
			case api.TriggerManual:
				lines = append(lines, fmt.Sprintf("    - she was taken out %d time(s) without ringing the bell", tc.Count))
			}
		}
	}
	if r.Dismissed > 0 {
		lines = append(lines, fmt.Sprintf("    - %d notification(s) were dismissed", r.Dismissed))
	}
	if len(lines) > 0 {
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if len(r.ByHandler) > 0 {
		var b strings.Builder
		b.WriteString("Who's taken her out today?")
		for _, hc := range r.ByHandler {
			fmt.Fprintf(&b, "\n  %s took her out %d time(s)", hc.HandledBy, hc.Count)
		}
		sections = append(sections, b.String())
	}

	if r.Last != nil {
		sections = append(sections,
			fmt.Sprintf("Who took her out last?\n  %s took her out last at %s", r.Last.HandledBy, r.Last.At.Format("03:04 PM")),
			fmt.Sprintf("What did she do the last time she was taken out?\n  %s", resultLabel(r.Last.Result)),
		)
	}

	if r.NextUp != "" {
		sections = append(sections, fmt.Sprintf("Who takes her out next?\n  %s", r.NextUp))
	}

	if len(r.ByResult) > 0 {
		var b strings.Builder
		b.WriteString("What did she do so far?")
		for _, rc := range r.ByResult {
			fmt.Fprintf(&b, "\n  %s: %d time(s)", resultLabel(rc.Result), rc.Count)
		}
		sections = append(sections, b.String())
	}

	return strings.Join(sections, "\n\n")
}

func resultLabel(r api.Result) string {
	switch r {
	case api.ResultNumber1:
		return "#1"
	case api.ResultNumber2:
		return "#2"
	case api.ResultBoth:
		return "Both"
	case api.ResultNothing:
		return "Nothing"
	default:
		return string(r)
	}
}
