package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"decidehub/internal/perm"
	"decidehub/internal/quality"
	"decidehub/internal/search"
	"decidehub/internal/store"
)

// ---- Notifications ----

func (s *Service) ListMyNotifications(ctx context.Context, session Session, unreadOnly bool) ([]store.Notification, error) {
	return s.store.ListNotifications(ctx, session.UserID, unreadOnly)
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	return s.store.MarkNotificationRead(ctx, notificationID, session.UserID)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) error {
	return s.store.MarkAllNotificationsRead(ctx, session.UserID)
}

// ---- Quality ----

// QualityCheck scores the decision's completeness. The heuristic baseline is
// always computed; the enricher refines it when configured and reachable.
func (s *Service) QualityCheck(ctx context.Context, session Session, decisionID string) (quality.Result, error) {
	decision, _, err := s.loadDecisionForViewer(ctx, session, decisionID)
	if err != nil {
		return quality.Result{}, err
	}
	optionsCount, err := s.store.CountOptions(ctx, decisionID)
	if err != nil {
		return quality.Result{}, err
	}

	in := quality.Input{
		Title:        decision.Title,
		Description:  decision.Description,
		Status:       decision.Status,
		Priority:     decision.Priority,
		OptionsCount: optionsCount,
		HasAssignee:  decision.AssignedTo != nil,
		HasDueDate:   decision.DueDate != nil,
		Tags:         decision.Tags,
		DueDate:      formatDate(decision.DueDate),
	}
	result := quality.Check(in)
	if s.enricher != nil {
		result = s.enricher.Enrich(ctx, in, result)
	}
	return result, nil
}

const summaryLimit = 400

// Summarize builds a short plain-text summary of a decision. The enricher is
// tried first when configured; deterministic truncation is the fallback.
func (s *Service) Summarize(ctx context.Context, session Session, decisionID string) (string, error) {
	decision, _, err := s.loadDecisionForViewer(ctx, session, decisionID)
	if err != nil {
		return "", err
	}

	if s.enricher != nil {
		summary, err := s.enricher.Summarize(ctx, decision.Title, decision.Description)
		if err == nil {
			return summary, nil
		}
		log.Printf("summary: enrichment for %s failed, using truncation: %v", decisionID, err)
	}

	description := strings.TrimSpace(decision.Description)
	if description == "" {
		return decision.Title, nil
	}
	if len(description) <= summaryLimit {
		return decision.Title + ": " + description, nil
	}

	cut := description[:summaryLimit]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return decision.Title + ": " + cut + "...", nil
}

// ---- Analytics ----

type OverviewStats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"byStatus"`
	ByPriority   map[string]int `json:"byPriority"`
	AvgCycleDays *float64       `json:"avgCycleDays"`
}

func (s *Service) AnalyticsOverview(ctx context.Context, session Session) (OverviewStats, error) {
	breakdown, err := s.store.DecisionBreakdownForUser(ctx, session.UserID)
	if err != nil {
		return OverviewStats{}, err
	}
	return OverviewStats{
		Total:        breakdown.Total,
		ByStatus:     breakdown.ByStatus,
		ByPriority:   breakdown.ByPriority,
		AvgCycleDays: breakdown.AvgCycleDays,
	}, nil
}

func (s *Service) TeamAnalytics(ctx context.Context, session Session, teamID string) (store.TeamKPIs, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return store.TeamKPIs{}, err
	}
	member, err := s.store.GetMembership(ctx, teamID, session.UserID)
	if err != nil {
		return store.TeamKPIs{}, err
	}
	if !perm.CanViewTeam(session.actor(), membership(member)) {
		return store.TeamKPIs{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of this team", nil)
	}
	return s.store.TeamKPIs(ctx, teamID)
}

func (s *Service) MyStats(ctx context.Context, session Session) (store.UserStats, error) {
	return s.store.UserStats(ctx, session.UserID)
}

// ---- Deadlines ----

// SweepDeadlines notifies the people responsible for decisions due within the
// window. Already-notified pairs are skipped so the hourly sweep does not
// repeat itself.
func (s *Service) SweepDeadlines(ctx context.Context, window time.Duration) error {
	decisions, err := s.store.ListDecisionsDueWithin(ctx, window)
	if err != nil {
		return err
	}
	for _, decision := range decisions {
		target := decision.CreatedBy
		if decision.AssignedTo != nil && *decision.AssignedTo != "" {
			target = *decision.AssignedTo
		}

		already, err := s.store.HasNotification(ctx, target, decision.ID, store.NotifDeadline)
		if err != nil {
			log.Printf("deadline: check notification for %s: %v", decision.ID, err)
			continue
		}
		if already {
			continue
		}

		message := fmt.Sprintf("'%s' is due on %s", decision.Title, formatDate(decision.DueDate))
		s.dispatch(ctx, target, &decision.ID, store.NotifDeadline, "Deadline approaching", message)
	}
	return nil
}

// ---- Search ----

type SearchInput struct {
	Text     string
	Status   string
	Priority string
	Limit    int
	Offset   int
}

// SearchDecisions searches across every team the caller belongs to.
func (s *Service) SearchDecisions(ctx context.Context, session Session, input SearchInput) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: input.Text}, nil
	}

	teams, err := s.store.ListTeamsForUser(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}
	teamIDs := make([]string, 0, len(teams))
	for _, team := range teams {
		teamIDs = append(teamIDs, team.ID)
	}

	return s.search.Search(search.Query{
		Text:     input.Text,
		TeamIDs:  teamIDs,
		Status:   input.Status,
		Priority: input.Priority,
		Limit:    input.Limit,
		Offset:   input.Offset,
	}), nil
}
