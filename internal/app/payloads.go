package app

import (
	"time"

	"decidehub/internal/store"
)

// Response shapes. Nullable timestamps render as null, not zero values.

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"handle":       session.Handle,
		"displayName":  session.DisplayName,
		"isStaff":      session.IsStaff,
		"expiresAt":    session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func teamPayload(team store.Team) map[string]any {
	return map[string]any{
		"id":          team.ID,
		"name":        team.Name,
		"description": team.Description,
		"createdAt":   team.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func teamPayloads(teams []store.Team) []map[string]any {
	payloads := make([]map[string]any, 0, len(teams))
	for _, team := range teams {
		payloads = append(payloads, teamPayload(team))
	}
	return payloads
}

func memberPayload(member store.TeamMember) map[string]any {
	return map[string]any{
		"id":          member.ID,
		"teamId":      member.TeamID,
		"userId":      member.UserID,
		"role":        member.Role,
		"handle":      member.UserHandle,
		"displayName": member.UserDisplayName,
		"joinedAt":    member.JoinedAt.UTC().Format(time.RFC3339),
	}
}

func memberPayloads(members []store.TeamMember) []map[string]any {
	payloads := make([]map[string]any, 0, len(members))
	for _, member := range members {
		payloads = append(payloads, memberPayload(member))
	}
	return payloads
}

func decisionPayload(decision store.Decision) map[string]any {
	return map[string]any{
		"id":           decision.ID,
		"teamId":       decision.TeamID,
		"title":        decision.Title,
		"description":  decision.Description,
		"status":       decision.Status,
		"priority":     decision.Priority,
		"createdBy":    decision.CreatedBy,
		"assignedTo":   decision.AssignedTo,
		"dueDate":      optionalDate(decision.DueDate),
		"decidedAt":    optionalTime(decision.DecidedAt),
		"tags":         decision.Tags,
		"impactScore":  decision.ImpactScore,
		"durationDays": decision.DurationDays(time.Now()),
		"createdAt":    decision.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":    decision.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func decisionPayloads(decisions []store.Decision) []map[string]any {
	payloads := make([]map[string]any, 0, len(decisions))
	for _, decision := range decisions {
		payloads = append(payloads, decisionPayload(decision))
	}
	return payloads
}

func optionPayload(option store.DecisionOption) map[string]any {
	return map[string]any{
		"id":            option.ID,
		"decisionId":    option.DecisionID,
		"title":         option.Title,
		"description":   option.Description,
		"pros":          option.Pros,
		"cons":          option.Cons,
		"estimatedCost": option.EstimatedCost,
		"estimatedTime": option.EstimatedTime,
		"votes":         option.Votes,
		"isSelected":    option.IsSelected,
		"createdAt":     option.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func optionPayloads(options []store.DecisionOption) []map[string]any {
	payloads := make([]map[string]any, 0, len(options))
	for _, option := range options {
		payloads = append(payloads, optionPayload(option))
	}
	return payloads
}

func reviewPayload(review store.DecisionReview) map[string]any {
	return map[string]any{
		"id":         review.ID,
		"decisionId": review.DecisionID,
		"reviewerId": review.ReviewerID,
		"reviewer":   review.ReviewerHandle,
		"status":     review.Status,
		"comment":    review.Comment,
		"reviewedAt": optionalTime(review.ReviewedAt),
		"createdAt":  review.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func reviewPayloads(reviews []store.DecisionReview) []map[string]any {
	payloads := make([]map[string]any, 0, len(reviews))
	for _, review := range reviews {
		payloads = append(payloads, reviewPayload(review))
	}
	return payloads
}

func commentPayload(comment store.DecisionComment) map[string]any {
	return map[string]any{
		"id":         comment.ID,
		"decisionId": comment.DecisionID,
		"userId":     comment.UserID,
		"author":     comment.UserHandle,
		"parentId":   comment.ParentID,
		"text":       comment.Text,
		"createdAt":  comment.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func commentPayloads(comments []store.DecisionComment) []map[string]any {
	payloads := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		payloads = append(payloads, commentPayload(comment))
	}
	return payloads
}

func auditPayloads(entries []store.DecisionAudit) []map[string]any {
	payloads := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, map[string]any{
			"id":         entry.ID,
			"decisionId": entry.DecisionID,
			"user":       entry.UserHandle,
			"action":     entry.Action,
			"changes":    entry.Changes,
			"timestamp":  entry.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return payloads
}

func notificationPayloads(items []store.Notification) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, map[string]any{
			"id":         item.ID,
			"decisionId": item.DecisionID,
			"type":       item.Type,
			"title":      item.Title,
			"message":    item.Message,
			"isRead":     item.IsRead,
			"createdAt":  item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return payloads
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func optionalDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02")
}
