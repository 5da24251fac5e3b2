package view

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"refportal/internal/domain"
)

func sampleReferrals() []domain.Referral {
	return []domain.Referral{
		{
			ID: "r1", JobID: "j-eng", JobCode: "ENG-101", JobTitle: "Backend Developer",
			Candidate:     domain.Candidate{FirstName: "Jane", LastName: "Doe"},
			ReferrerName:  "Alice Smith",
			CurrentStatus: domain.StatusSubmitted,
		},
		{
			ID: "r2", JobID: "j-ops", JobCode: "OPS-7", JobTitle: "Site Reliability",
			Candidate:     domain.Candidate{FirstName: "Bengt", MiddleName: "Ola", LastName: "Larsson"},
			ReferrerName:  "Bob Jones",
			CurrentStatus: domain.StatusInterview,
		},
		{
			ID: "r3", JobID: "j-fin", JobCode: "FIN-2", JobTitle: "Accountant",
			Candidate:     domain.Candidate{FirstName: "Maria", LastName: "Lopez"},
			ReferrerName:  "Eng Lee",
			CurrentStatus: domain.StatusHired,
		},
		{
			ID: "r4", JobID: "j-fin", JobCode: "FIN-2", JobTitle: "Accountant",
			Candidate:     domain.Candidate{FirstName: "Tom", LastName: "Ng"},
			ReferrerName:  "Bob Jones",
			CurrentStatus: domain.StatusRejected,
		},
	}
}

func ids(refs []domain.Referral) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID)
	}
	return out
}

func TestFilterSearchAcrossFieldsHR(t *testing.T) {
	got := Filter(sampleReferrals(), Criteria{Search: "eng", Status: All, JobID: All, IncludeReferrer: true})
	// ENG-101 job code, "Bengt" candidate name, "Eng Lee" referrer.
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids(got))
}

func TestFilterSearchIgnoresReferrerForEmployees(t *testing.T) {
	got := Filter(sampleReferrals(), Criteria{Search: "eng"})
	assert.Equal(t, []string{"r1", "r2"}, ids(got))
}

func TestFilterMatchesFirstLastWithoutMiddle(t *testing.T) {
	got := Filter(sampleReferrals(), Criteria{Search: "bengt larsson"})
	assert.Equal(t, []string{"r2"}, ids(got))
	got = Filter(sampleReferrals(), Criteria{Search: "BENGT OLA"})
	assert.Equal(t, []string{"r2"}, ids(got))
}

func TestFilterComposesWithAnd(t *testing.T) {
	refs := sampleReferrals()
	assert.Equal(t, []string{"r3", "r4"}, ids(Filter(refs, Criteria{JobID: "j-fin"})))
	assert.Equal(t, []string{"r4"}, ids(Filter(refs, Criteria{JobID: "j-fin", Status: "rejected"})))
	assert.Empty(t, Filter(refs, Criteria{JobID: "j-fin", Status: "rejected", Search: "maria"}))
	assert.Equal(t, []string{"r2"}, ids(Filter(refs, Criteria{Status: "Interview"})))
}

func TestFilterAllIsNoOp(t *testing.T) {
	refs := sampleReferrals()
	assert.Len(t, Filter(refs, Criteria{Status: "ALL", JobID: "all"}), len(refs))
	assert.Len(t, Filter(refs, Criteria{}), len(refs))
}

func TestStatusCountsAndSummary(t *testing.T) {
	refs := sampleReferrals()
	counts := StatusCounts(refs)
	assert.Equal(t, map[domain.Status]int{
		domain.StatusSubmitted: 1,
		domain.StatusInterview: 1,
		domain.StatusHired:     1,
		domain.StatusRejected:  1,
	}, counts)

	s := Summarize(refs, 5)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 5, s.ActiveJobs)
	assert.Equal(t, 1, s.InProgress)
	assert.Equal(t, 1, s.Hired)
}

func TestFullName(t *testing.T) {
	assert.Equal(t, "Jane Doe", FullName(domain.Candidate{FirstName: " Jane ", LastName: "Doe"}))
	assert.Equal(t, "A B C", FullName(domain.Candidate{FirstName: "A", MiddleName: "B", LastName: "C"}))
}
