package store

import (
	"time"

	"decidehub/internal/audit"
)

type User struct {
	ID           string
	Handle       string
	DisplayName  string
	Email        string
	PasswordHash string
	IsStaff      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Team struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// TeamMember links a user to a team with a role. Unique per (user, team).
type TeamMember struct {
	ID       string
	TeamID   string
	UserID   string
	Role     string
	JoinedAt time.Time
	// Joined fields for API responses
	UserHandle      string
	UserDisplayName string
}

const (
	StatusDraft       = "draft"
	StatusReview      = "review"
	StatusApproved    = "approved"
	StatusImplemented = "implemented"
	StatusRejected    = "rejected"
)

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

type Decision struct {
	ID          string
	TeamID      string
	Title       string
	Description string
	Status      string
	Priority    string
	CreatedBy   string
	AssignedTo  *string
	DueDate     *time.Time
	DecidedAt   *time.Time
	Tags        string
	ImpactScore int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Terminal reports whether a status carries a decision timestamp.
func Terminal(status string) bool {
	return status == StatusApproved || status == StatusImplemented || status == StatusRejected
}

// DurationDays is the number of calendar days from creation until the
// decision was made, or until now for undecided decisions. A decision
// created late in the evening and made the next morning counts as one
// day. Never negative.
func (d Decision) DurationDays(now time.Time) int {
	start := d.CreatedAt
	if start.IsZero() {
		start = now
	}
	end := now
	if d.DecidedAt != nil {
		end = *d.DecidedAt
	}
	sy, sm, sd := start.UTC().Date()
	ey, em, ed := end.UTC().Date()
	startDay := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	endDay := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	days := int(endDay.Sub(startDay).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

type DecisionOption struct {
	ID            string
	DecisionID    string
	Title         string
	Description   string
	Pros          string
	Cons          string
	EstimatedCost *float64
	EstimatedTime string
	Votes         int
	IsSelected    bool
	CreatedAt     time.Time
}

const (
	ReviewPending          = "pending"
	ReviewApproved         = "approved"
	ReviewRejected         = "rejected"
	ReviewChangesRequested = "changes_requested"
)

// DecisionReview is one review submission. Rows append per event, a reviewer
// may have several.
type DecisionReview struct {
	ID         string
	DecisionID string
	ReviewerID string
	Status     string
	Comment    string
	CreatedAt  time.Time
	ReviewedAt *time.Time
	// Joined fields for API responses
	ReviewerHandle string
}

// DecisionAudit is an immutable record of one action against a decision.
type DecisionAudit struct {
	ID         int64
	DecisionID string
	UserID     *string
	Action     string
	Changes    audit.ChangeSet
	Timestamp  time.Time
	// Joined fields for API responses
	UserHandle string
}

type DecisionComment struct {
	ID         string
	DecisionID string
	UserID     string
	ParentID   *string
	Text       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Joined fields for API responses
	UserHandle string
}

const (
	NotifStatusChange   = "status_change"
	NotifReviewAssigned = "review_assigned"
	NotifMention        = "mention"
	NotifDeadline       = "deadline"
	NotifSystem         = "system"
)

type Notification struct {
	ID         string
	UserID     string
	DecisionID *string
	Type       string
	Title      string
	Message    string
	IsRead     bool
	CreatedAt  time.Time
}

// DecisionFilter narrows decision listings. Zero values mean "no filter".
type DecisionFilter struct {
	TeamID   string
	Status   string
	Priority string
	Query    string
	Limit    int
}

// StatusBreakdown aggregates decision counts for analytics.
type StatusBreakdown struct {
	Total        int
	ByStatus     map[string]int
	ByPriority   map[string]int
	AvgCycleDays *float64
}

type TeamKPIs struct {
	TotalDecisions int
	Completed      int
	Pending        int
}

type UserStats struct {
	DecisionsCreated int
	ReviewsDone      int
	ReviewsPending   int
}
