package api

import "time"

// TriggerCount is the number of completed instances started by one trigger kind.
type TriggerCount struct {
	Trigger TriggerKind
	Count   int
}

// HandlerCount is the number of completed instances claimed by one person.
type HandlerCount struct {
	HandledBy string
	Count     int
}

// ResultCount is the number of completed instances with one outcome.
type ResultCount struct {
	Result Result
	Count  int
}

// LastCompletion describes the most recent completed instance.
type LastCompletion struct {
	HandledBy string
	At        time.Time
	Result    Result
}

// Report is the daily summary. Slices are empty, and Last is nil, when the
// corresponding data does not exist.
type Report struct {
	Day Day

	// InsufficientData is set when the day has neither completed nor
	// dismissed instances; no other field is meaningful then.
	InsufficientData bool

	Completed int
	ByTrigger []TriggerCount
	Dismissed int
	ByHandler []HandlerCount
	Last      *LastCompletion
	// NextUp is the most recent claimant other than Last.HandledBy.
	NextUp   string
	ByResult []ResultCount
}
