package domain

type Role string

const (
	RoleEmployee Role = "employee"
	RoleHR       Role = "hr"
)

func (r Role) Valid() bool {
	return r == RoleEmployee || r == RoleHR
}

type Actor struct {
	ID           string `json:"id"`
	EmployeeCode string `json:"employee_code"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role" enum:"employee,hr"`
	IsActive     bool   `json:"is_active"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

func (a Actor) IsHR() bool {
	return a.Role == RoleHR
}

type Job struct {
	ID         string `json:"id"`
	Code       string `json:"job_code"`
	Title      string `json:"title"`
	Department string `json:"department"`
	IsActive   bool   `json:"is_active"`
	CreatedBy  string `json:"created_by,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

// Candidate holds the identity fields captured on the referral form.
type Candidate struct {
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name,omitempty"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	DOB        string `json:"dob" format:"date"`
}

type Referral struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id"`
	ReferrerID       string    `json:"referrer_id"`
	Candidate        Candidate `json:"candidate"`
	HowKnowCandidate string    `json:"how_know_candidate"`
	ResumeRef        *string   `json:"resume_ref,omitempty"`
	CurrentStatus    Status    `json:"current_status" enum:"submitted,screening,interview,offer,hired,rejected"`
	CreatedAt        string    `json:"created_at" format:"date-time"`
	UpdatedAt        string    `json:"updated_at" format:"date-time"`

	// Display fields joined from jobs and actors.
	JobCode       string `json:"job_code,omitempty"`
	JobTitle      string `json:"job_title,omitempty"`
	JobDepartment string `json:"job_department,omitempty"`
	ReferrerName  string `json:"referrer_name,omitempty"`
}

type StatusHistoryEntry struct {
	ID            string  `json:"id"`
	ReferralID    string  `json:"referral_id"`
	Seq           int     `json:"seq"`
	Status        Status  `json:"status" enum:"submitted,screening,interview,offer,hired,rejected"`
	Note          *string `json:"note,omitempty"`
	ChangedBy     string  `json:"changed_by"`
	ChangedByName string  `json:"changed_by_name,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Summary is the dashboard projection over a referral set.
type Summary struct {
	Total        int            `json:"total_referrals"`
	ActiveJobs   int            `json:"active_jobs"`
	InProgress   int            `json:"in_progress"`
	Hired        int            `json:"hired"`
	StatusCounts map[Status]int `json:"status_counts"`
}
