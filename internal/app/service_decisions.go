package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"decidehub/internal/audit"
	"decidehub/internal/notify"
	"decidehub/internal/perm"
	"decidehub/internal/search"
	"decidehub/internal/store"
	"decidehub/internal/util"
)

const commentAuditLimit = 200

type CreateDecisionInput struct {
	TeamID      string     `json:"teamId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssignedTo  *string    `json:"assignedTo"`
	DueDate     *time.Time `json:"dueDate"`
	Tags        string     `json:"tags"`
	ImpactScore int        `json:"impactScore"`
}

type UpdateDecisionInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Priority    *string    `json:"priority"`
	AssignedTo  *string    `json:"assignedTo"`
	DueDate     *time.Time `json:"dueDate"`
	Tags        *string    `json:"tags"`
	ImpactScore *int       `json:"impactScore"`
}

// recordAudit writes a trail entry. Audit failures are logged, never surfaced:
// losing one history line must not fail the operation that caused it.
func (s *Service) recordAudit(ctx context.Context, decisionID string, userID *string, action string, changes audit.ChangeSet) {
	entry := store.DecisionAudit{
		DecisionID: decisionID,
		UserID:     userID,
		Action:     action,
		Changes:    changes,
	}
	if err := s.store.InsertAudit(ctx, entry); err != nil {
		log.Printf("audit: record %s on %s: %v", action, decisionID, err)
	}
}

func (s *Service) indexDecision(d store.Decision) {
	if s.search == nil {
		return
	}
	s.search.IndexDecision(search.Record{
		ID:          d.ID,
		TeamID:      d.TeamID,
		Title:       d.Title,
		Description: d.Description,
		Status:      d.Status,
		Priority:    d.Priority,
		Tags:        d.Tags,
	})
}

// loadDecisionForViewer loads a decision and checks view access in one step.
func (s *Service) loadDecisionForViewer(ctx context.Context, session Session, decisionID string) (store.Decision, *store.TeamMember, error) {
	decision, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, nil, err
	}
	member, err := s.store.GetMembership(ctx, decision.TeamID, session.UserID)
	if err != nil {
		return store.Decision{}, nil, err
	}
	if !perm.CanViewDecision(session.actor(), membership(member)) {
		return store.Decision{}, nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of this team", nil)
	}
	return decision, member, nil
}

func (s *Service) CreateDecision(ctx context.Context, session Session, input CreateDecisionInput) (store.Decision, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Decision{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Title is required", nil)
	}
	if _, err := s.store.GetTeam(ctx, input.TeamID); err != nil {
		return store.Decision{}, err
	}

	member, err := s.store.GetMembership(ctx, input.TeamID, session.UserID)
	if err != nil {
		return store.Decision{}, err
	}
	if !perm.CanCreateDecision(session.actor(), membership(member)) {
		return store.Decision{}, domainError(http.StatusForbidden, "FORBIDDEN", "Your role cannot create decisions", nil)
	}

	status := input.Status
	if status == "" {
		status = store.StatusDraft
	}
	if _, ok := validStatuses[status]; !ok {
		return store.Decision{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status", map[string]any{"status": status})
	}
	priority := input.Priority
	if priority == "" {
		priority = store.PriorityMedium
	}
	if _, ok := validPriorities[priority]; !ok {
		return store.Decision{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown priority", map[string]any{"priority": priority})
	}

	decision := store.Decision{
		ID:          util.NewID("dec"),
		TeamID:      input.TeamID,
		Title:       title,
		Description: input.Description,
		Status:      status,
		Priority:    priority,
		CreatedBy:   session.UserID,
		AssignedTo:  input.AssignedTo,
		DueDate:     input.DueDate,
		Tags:        strings.TrimSpace(input.Tags),
		ImpactScore: input.ImpactScore,
	}
	if store.Terminal(status) {
		now := time.Now()
		decision.DecidedAt = &now
	}
	if err := s.store.InsertDecision(ctx, decision); err != nil {
		return store.Decision{}, err
	}

	s.recordAudit(ctx, decision.ID, &session.UserID, audit.ActionCreated, audit.ChangeSet{
		"title":    audit.Scalar(decision.Title),
		"status":   audit.Scalar(decision.Status),
		"priority": audit.Scalar(decision.Priority),
	})

	stored, err := s.store.GetDecision(ctx, decision.ID)
	if err != nil {
		return decision, nil
	}
	s.indexDecision(stored)
	return stored, nil
}

// DecisionDetail bundles a decision with its sub-resources for the detail view.
type DecisionDetail struct {
	Decision store.Decision
	Options  []store.DecisionOption
	Reviews  ReviewList
	Comments []store.DecisionComment
	History  []store.DecisionAudit
}

func (s *Service) GetDecisionDetail(ctx context.Context, session Session, decisionID string) (DecisionDetail, error) {
	decision, _, err := s.loadDecisionForViewer(ctx, session, decisionID)
	if err != nil {
		return DecisionDetail{}, err
	}
	options, err := s.store.ListOptions(ctx, decisionID)
	if err != nil {
		return DecisionDetail{}, err
	}
	reviews, err := s.store.ListReviews(ctx, decisionID)
	if err != nil {
		return DecisionDetail{}, err
	}
	comments, err := s.store.ListComments(ctx, decisionID)
	if err != nil {
		return DecisionDetail{}, err
	}
	history, err := s.store.ListAudit(ctx, decisionID)
	if err != nil {
		return DecisionDetail{}, err
	}
	return DecisionDetail{
		Decision: decision,
		Options:  options,
		Reviews:  tallyReviews(reviews),
		Comments: comments,
		History:  history,
	}, nil
}

func (s *Service) ListDecisions(ctx context.Context, session Session, filter store.DecisionFilter) ([]store.Decision, error) {
	if filter.Status != "" {
		if _, ok := validStatuses[filter.Status]; !ok {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status", map[string]any{"status": filter.Status})
		}
	}
	if filter.Priority != "" {
		if _, ok := validPriorities[filter.Priority]; !ok {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown priority", map[string]any{"priority": filter.Priority})
		}
	}
	return s.store.ListDecisionsForUser(ctx, session.UserID, filter)
}

func (s *Service) UpdateDecisionFields(ctx context.Context, session Session, decisionID string, input UpdateDecisionInput) (store.Decision, error) {
	decision, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, err
	}
	member, err := s.store.GetMembership(ctx, decision.TeamID, session.UserID)
	if err != nil {
		return store.Decision{}, err
	}
	if !perm.CanEditDecision(session.actor(), membership(member), decision.CreatedBy, decision.Status) {
		return store.Decision{}, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot edit this decision", nil)
	}

	changes := audit.ChangeSet{}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return store.Decision{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Title cannot be blank", nil)
		}
		if title != decision.Title {
			changes["title"] = audit.Transition(decision.Title, title)
			decision.Title = title
		}
	}
	if input.Description != nil && *input.Description != decision.Description {
		changes["description"] = audit.Transition(truncate(decision.Description, commentAuditLimit), truncate(*input.Description, commentAuditLimit))
		decision.Description = *input.Description
	}
	if input.Priority != nil && *input.Priority != decision.Priority {
		if _, ok := validPriorities[*input.Priority]; !ok {
			return store.Decision{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown priority", map[string]any{"priority": *input.Priority})
		}
		changes["priority"] = audit.Transition(decision.Priority, *input.Priority)
		decision.Priority = *input.Priority
	}
	if input.AssignedTo != nil {
		previous := ""
		if decision.AssignedTo != nil {
			previous = *decision.AssignedTo
		}
		next := strings.TrimSpace(*input.AssignedTo)
		if next != previous {
			changes["assigned_to"] = audit.Transition(previous, next)
			if next == "" {
				decision.AssignedTo = nil
			} else {
				if _, err := s.store.GetUserByID(ctx, next); err != nil {
					return store.Decision{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Assignee does not exist", nil)
				}
				decision.AssignedTo = &next
			}
		}
	}
	if input.DueDate != nil && (decision.DueDate == nil || !decision.DueDate.Equal(*input.DueDate)) {
		changes["due_date"] = audit.Transition(formatDate(decision.DueDate), formatDate(input.DueDate))
		decision.DueDate = input.DueDate
	}
	if input.Tags != nil && strings.TrimSpace(*input.Tags) != decision.Tags {
		changes["tags"] = audit.Transition(decision.Tags, strings.TrimSpace(*input.Tags))
		decision.Tags = strings.TrimSpace(*input.Tags)
	}
	if input.ImpactScore != nil && *input.ImpactScore != decision.ImpactScore {
		changes["impact_score"] = audit.Transition(decision.ImpactScore, *input.ImpactScore)
		decision.ImpactScore = *input.ImpactScore
	}

	if len(changes) == 0 {
		return decision, nil
	}

	if err := s.store.UpdateDecision(ctx, decision); err != nil {
		return store.Decision{}, err
	}
	s.recordAudit(ctx, decision.ID, &session.UserID, audit.ActionEdited, changes)

	stored, err := s.store.GetDecision(ctx, decision.ID)
	if err != nil {
		return decision, nil
	}
	s.indexDecision(stored)
	return stored, nil
}

// ChangeDecisionStatus moves a decision to a new status. Transitions are not
// restricted to a fixed graph: teams walk decisions backwards all the time
// (approved back to review after new information). The decided timestamp is
// owned here: set once on entering a terminal status, cleared on leaving it.
func (s *Service) ChangeDecisionStatus(ctx context.Context, session Session, decisionID, newStatus string) (store.Decision, error) {
	if _, ok := validStatuses[newStatus]; !ok {
		return store.Decision{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status", map[string]any{"status": newStatus})
	}

	decision, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, err
	}
	member, err := s.store.GetMembership(ctx, decision.TeamID, session.UserID)
	if err != nil {
		return store.Decision{}, err
	}
	if !perm.CanEditDecision(session.actor(), membership(member), decision.CreatedBy, decision.Status) {
		return store.Decision{}, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot change this decision's status", nil)
	}

	oldStatus := decision.Status
	if oldStatus == newStatus {
		return decision, nil
	}

	decidedAt := decision.DecidedAt
	if store.Terminal(newStatus) && !store.Terminal(oldStatus) && decidedAt == nil {
		now := time.Now()
		decidedAt = &now
	}
	if !store.Terminal(newStatus) && store.Terminal(oldStatus) {
		decidedAt = nil
	}

	if err := s.store.UpdateDecisionStatus(ctx, decisionID, newStatus, decidedAt); err != nil {
		return store.Decision{}, err
	}

	s.recordAudit(ctx, decisionID, &session.UserID, audit.ActionStatusChanged, audit.ChangeSet{
		"status": audit.Transition(oldStatus, newStatus),
	})

	memberIDs, err := s.store.ListTeamMemberUserIDs(ctx, decision.TeamID)
	if err != nil {
		log.Printf("notify: list members of %s: %v", decision.TeamID, err)
	} else {
		message := fmt.Sprintf("'%s' moved from %s to %s", decision.Title, oldStatus, newStatus)
		s.dispatchToMany(ctx, memberIDs, session.UserID, &decision.ID, store.NotifStatusChange, "Decision status changed", message)
	}
	if newStatus == store.StatusReview {
		s.notifyReviewers(ctx, session, decision)
	}

	stored, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		decision.Status = newStatus
		decision.DecidedAt = decidedAt
		return decision, nil
	}
	s.indexDecision(stored)
	return stored, nil
}

// notifyReviewers pings team members who can review when a decision enters review.
func (s *Service) notifyReviewers(ctx context.Context, session Session, decision store.Decision) {
	members, err := s.store.ListTeamMembers(ctx, decision.TeamID)
	if err != nil {
		log.Printf("notify: list members of %s: %v", decision.TeamID, err)
		return
	}
	message := fmt.Sprintf("'%s' is ready for review", decision.Title)
	for _, member := range members {
		if member.UserID == session.UserID {
			continue
		}
		m := member
		if !perm.CanReviewDecision(perm.Actor{ID: member.UserID}, membership(&m)) {
			continue
		}
		s.dispatch(ctx, member.UserID, &decision.ID, store.NotifReviewAssigned, "Review requested", message)
	}
}

// RemoveDecision deletes a decision. The trail entry is written first so the
// deletion itself is recorded; audit rows deliberately survive the decision.
func (s *Service) RemoveDecision(ctx context.Context, session Session, decisionID string) error {
	decision, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return err
	}
	member, err := s.store.GetMembership(ctx, decision.TeamID, session.UserID)
	if err != nil {
		return err
	}
	if !perm.CanEditDecision(session.actor(), membership(member), decision.CreatedBy, decision.Status) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "You cannot delete this decision", nil)
	}

	s.recordAudit(ctx, decisionID, &session.UserID, audit.ActionDeleted, audit.ChangeSet{
		"title": audit.Scalar(decision.Title),
	})

	if err := s.store.DeleteDecision(ctx, decisionID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDecision(decisionID)
	}
	return nil
}

// ---- Options ----

type AddOptionInput struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Pros          string   `json:"pros"`
	Cons          string   `json:"cons"`
	EstimatedCost *float64 `json:"estimatedCost"`
	EstimatedTime string   `json:"estimatedTime"`
}

func (s *Service) AddOption(ctx context.Context, session Session, decisionID string, input AddOptionInput) (store.DecisionOption, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.DecisionOption{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Option title is required", nil)
	}

	decision, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.DecisionOption{}, err
	}
	member, err := s.store.GetMembership(ctx, decision.TeamID, session.UserID)
	if err != nil {
		return store.DecisionOption{}, err
	}
	if !perm.CanEditDecision(session.actor(), membership(member), decision.CreatedBy, decision.Status) {
		return store.DecisionOption{}, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot add options to this decision", nil)
	}

	option := store.DecisionOption{
		ID:            util.NewID("opt"),
		DecisionID:    decisionID,
		Title:         title,
		Description:   input.Description,
		Pros:          input.Pros,
		Cons:          input.Cons,
		EstimatedCost: input.EstimatedCost,
		EstimatedTime: input.EstimatedTime,
	}
	if err := s.store.InsertOption(ctx, option); err != nil {
		return store.DecisionOption{}, err
	}
	return s.store.GetOption(ctx, option.ID)
}

func (s *Service) ListDecisionOptions(ctx context.Context, session Session, decisionID string) ([]store.DecisionOption, error) {
	if _, _, err := s.loadDecisionForViewer(ctx, session, decisionID); err != nil {
		return nil, err
	}
	return s.store.ListOptions(ctx, decisionID)
}

func (s *Service) VoteForOption(ctx context.Context, session Session, decisionID, optionID string) (store.DecisionOption, error) {
	if _, _, err := s.loadDecisionForViewer(ctx, session, decisionID); err != nil {
		return store.DecisionOption{}, err
	}
	option, err := s.store.GetOption(ctx, optionID)
	if err != nil {
		return store.DecisionOption{}, err
	}
	if option.DecisionID != decisionID {
		return store.DecisionOption{}, domainError(http.StatusNotFound, "NOT_FOUND", "Option not on this decision", nil)
	}
	if err := s.store.VoteOption(ctx, optionID); err != nil {
		return store.DecisionOption{}, err
	}
	return s.store.GetOption(ctx, optionID)
}

func (s *Service) SelectDecisionOption(ctx context.Context, session Session, decisionID, optionID string) (store.DecisionOption, error) {
	decision, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.DecisionOption{}, err
	}
	member, err := s.store.GetMembership(ctx, decision.TeamID, session.UserID)
	if err != nil {
		return store.DecisionOption{}, err
	}
	if !perm.CanEditDecision(session.actor(), membership(member), decision.CreatedBy, decision.Status) {
		return store.DecisionOption{}, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot select options on this decision", nil)
	}
	if err := s.store.SelectOption(ctx, decisionID, optionID); err != nil {
		return store.DecisionOption{}, err
	}
	return s.store.GetOption(ctx, optionID)
}

// ---- Reviews ----

type SubmitReviewInput struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

// SubmitReview appends a review event. Reviews are never overwritten: a
// reviewer who changes their mind submits again and the trail keeps both.
func (s *Service) SubmitReview(ctx context.Context, session Session, decisionID string, input SubmitReviewInput) (store.DecisionReview, error) {
	if _, ok := validReviewStatuses[input.Status]; !ok {
		return store.DecisionReview{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unknown review status", map[string]any{"status": input.Status})
	}

	decision, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.DecisionReview{}, err
	}
	member, err := s.store.GetMembership(ctx, decision.TeamID, session.UserID)
	if err != nil {
		return store.DecisionReview{}, err
	}
	if !perm.CanReviewDecision(session.actor(), membership(member)) {
		return store.DecisionReview{}, domainError(http.StatusForbidden, "FORBIDDEN", "Your role cannot review decisions", nil)
	}

	review := store.DecisionReview{
		ID:         util.NewID("rev"),
		DecisionID: decisionID,
		ReviewerID: session.UserID,
		Status:     input.Status,
		Comment:    input.Comment,
	}
	// A pending review is a claim, not a verdict: reviewed_at stays unset
	// until the reviewer submits a real status.
	if input.Status != store.ReviewPending {
		now := time.Now()
		review.ReviewedAt = &now
	}
	if err := s.store.InsertReview(ctx, review); err != nil {
		return store.DecisionReview{}, err
	}

	s.recordAudit(ctx, decisionID, &session.UserID, audit.ActionReviewSubmitted, audit.ChangeSet{
		"review_status": audit.Scalar(input.Status),
	})

	if decision.CreatedBy != session.UserID {
		message := fmt.Sprintf("@%s reviewed '%s': %s", session.Handle, decision.Title, input.Status)
		s.dispatch(ctx, decision.CreatedBy, &decision.ID, store.NotifReviewAssigned, "Review submitted", message)
	}

	review.ReviewerHandle = session.Handle
	return review, nil
}

type ReviewList struct {
	Reviews          []store.DecisionReview `json:"reviews"`
	Approvals        int                    `json:"approvals"`
	Rejections       int                    `json:"rejections"`
	ChangesRequested int                    `json:"changesRequested"`
}

func (s *Service) ListDecisionReviews(ctx context.Context, session Session, decisionID string) (ReviewList, error) {
	if _, _, err := s.loadDecisionForViewer(ctx, session, decisionID); err != nil {
		return ReviewList{}, err
	}
	reviews, err := s.store.ListReviews(ctx, decisionID)
	if err != nil {
		return ReviewList{}, err
	}
	return tallyReviews(reviews), nil
}

func tallyReviews(reviews []store.DecisionReview) ReviewList {
	out := ReviewList{Reviews: reviews}
	for _, review := range reviews {
		switch review.Status {
		case store.ReviewApproved:
			out.Approvals++
		case store.ReviewRejected:
			out.Rejections++
		case store.ReviewChangesRequested:
			out.ChangesRequested++
		}
	}
	return out
}

// ---- Comments ----

type AddCommentInput struct {
	Text     string  `json:"text"`
	ParentID *string `json:"parentId"`
}

func (s *Service) AddComment(ctx context.Context, session Session, decisionID string, input AddCommentInput) (store.DecisionComment, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return store.DecisionComment{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Comment text is required", nil)
	}

	decision, _, err := s.loadDecisionForViewer(ctx, session, decisionID)
	if err != nil {
		return store.DecisionComment{}, err
	}

	if input.ParentID != nil {
		parent, err := s.store.GetComment(ctx, *input.ParentID)
		if err != nil {
			return store.DecisionComment{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Parent comment does not exist", nil)
		}
		if parent.DecisionID != decisionID {
			return store.DecisionComment{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Parent comment belongs to another decision", nil)
		}
	}

	comment := store.DecisionComment{
		ID:         util.NewID("cmt"),
		DecisionID: decisionID,
		UserID:     session.UserID,
		ParentID:   input.ParentID,
		Text:       text,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.DecisionComment{}, err
	}

	s.recordAudit(ctx, decisionID, &session.UserID, audit.ActionCommented, audit.ChangeSet{
		"comment": audit.Scalar(truncate(text, commentAuditLimit)),
	})

	s.notifyMentions(ctx, session, decision, text)

	stored, err := s.store.GetComment(ctx, comment.ID)
	if err != nil {
		comment.UserHandle = session.Handle
		return comment, nil
	}
	stored.UserHandle = session.Handle
	return stored, nil
}

// notifyMentions resolves @handles in a comment. Mentioned users outside the
// decision's team are skipped so comments cannot leak team activity.
func (s *Service) notifyMentions(ctx context.Context, session Session, decision store.Decision, text string) {
	for _, handle := range notify.ExtractMentions(text) {
		user, err := s.store.GetUserByHandle(ctx, handle)
		if err != nil {
			continue
		}
		if user.ID == session.UserID {
			continue
		}
		member, err := s.store.GetMembership(ctx, decision.TeamID, user.ID)
		if err != nil || member == nil {
			continue
		}
		message := fmt.Sprintf("@%s mentioned you on '%s'", session.Handle, decision.Title)
		s.dispatch(ctx, user.ID, &decision.ID, store.NotifMention, "You were mentioned", message)
	}
}

func (s *Service) ListDecisionComments(ctx context.Context, session Session, decisionID string) ([]store.DecisionComment, error) {
	if _, _, err := s.loadDecisionForViewer(ctx, session, decisionID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, decisionID)
}

// ---- History ----

func (s *Service) DecisionHistory(ctx context.Context, session Session, decisionID string) ([]store.DecisionAudit, error) {
	if _, _, err := s.loadDecisionForViewer(ctx, session, decisionID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, decisionID)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
