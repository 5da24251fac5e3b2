package domain

import (
	"sort"
	"strings"
)

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusScreening Status = "screening"
	StatusInterview Status = "interview"
	StatusOffer     Status = "offer"
	StatusHired     Status = "hired"
	StatusRejected  Status = "rejected"
)

// Statuses lists every status in workflow order.
var Statuses = []Status{
	StatusSubmitted,
	StatusScreening,
	StatusInterview,
	StatusOffer,
	StatusHired,
	StatusRejected,
}

var statusLabels = map[Status]string{
	StatusSubmitted: "Submitted",
	StatusScreening: "Screening",
	StatusInterview: "Interview",
	StatusOffer:     "Offer",
	StatusHired:     "Hired",
	StatusRejected:  "Rejected",
}

// ParseStatus accepts any casing and surrounding whitespace.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := statusLabels[st]; !ok {
		return "", false
	}
	return st, true
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Rank is the position of s in the workflow; unknown statuses rank last.
func (s Status) Rank() int {
	for i, st := range Statuses {
		if st == s {
			return i
		}
	}
	return len(Statuses)
}

func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s Status) Terminal() bool {
	return s == StatusHired || s == StatusRejected
}

func (s Status) InProgress() bool {
	return s == StatusScreening || s == StatusInterview || s == StatusOffer
}

// NextSuggested returns the forward step the UI proposes. It is advisory:
// the validator accepts any change.
func (s Status) NextSuggested() (Status, bool) {
	switch s {
	case StatusSubmitted:
		return StatusScreening, true
	case StatusScreening:
		return StatusInterview, true
	case StatusInterview:
		return StatusOffer, true
	case StatusOffer:
		return StatusHired, true
	}
	return "", false
}

func SortStatuses(in []Status) {
	sort.SliceStable(in, func(i, j int) bool { return in[i].Rank() < in[j].Rank() })
}
