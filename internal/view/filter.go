// Package view derives role-scoped, filtered projections of referrals.
package view

import (
	"strings"

	"refportal/internal/domain"
)

// All disables a status or job criterion.
const All = "all"

type Criteria struct {
	Search string `json:"search,omitempty"`
	Status string `json:"status,omitempty"`
	JobID  string `json:"job_id,omitempty"`
	// IncludeReferrer lets Search match the referrer's name (HR view).
	IncludeReferrer bool `json:"include_referrer,omitempty"`
}

func isAll(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, All)
}

// FullName joins the non-empty name parts.
func FullName(c domain.Candidate) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.FirstName, c.MiddleName, c.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Match reports whether ref satisfies every criterion.
func (c Criteria) Match(ref domain.Referral) bool {
	if !isAll(c.Status) && string(ref.CurrentStatus) != strings.ToLower(strings.TrimSpace(c.Status)) {
		return false
	}
	if !isAll(c.JobID) && ref.JobID != strings.TrimSpace(c.JobID) {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(c.Search))
	if term == "" {
		return true
	}
	fields := []string{
		FullName(ref.Candidate),
		ref.Candidate.FirstName + " " + ref.Candidate.LastName,
		ref.JobCode,
		ref.JobTitle,
	}
	if c.IncludeReferrer {
		fields = append(fields, ref.ReferrerName)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

// Filter keeps the referrals matching c, preserving order.
func Filter(refs []domain.Referral, c Criteria) []domain.Referral {
	out := make([]domain.Referral, 0, len(refs))
	for _, r := range refs {
		if c.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// StatusCounts maps each observed status to its referral count.
func StatusCounts(refs []domain.Referral) map[domain.Status]int {
	counts := map[domain.Status]int{}
	for _, r := range refs {
		counts[r.CurrentStatus]++
	}
	return counts
}

// Summarize builds the dashboard numbers.
func Summarize(refs []domain.Referral, activeJobs int) domain.Summary {
	s := domain.Summary{
		Total:        len(refs),
		ActiveJobs:   activeJobs,
		StatusCounts: StatusCounts(refs),
	}
	for _, r := range refs {
		if r.CurrentStatus.InProgress() {
			s.InProgress++
		}
		if r.CurrentStatus == domain.StatusHired {
			s.Hired++
		}
	}
	return s
}
