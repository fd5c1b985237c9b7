package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- Users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, handle, display_name, email, password_hash, is_staff)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Handle, user.DisplayName, user.Email, user.PasswordHash, user.IsStaff)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, handle, display_name, email, password_hash, is_staff
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Handle, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsStaff)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, handle, display_name, email, password_hash, is_staff
		FROM users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.Handle, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsStaff)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByHandle(ctx context.Context, handle string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, handle, display_name, email, password_hash, is_staff
		FROM users WHERE handle=$1
	`, handle).Scan(&user.ID, &user.Handle, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsStaff)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- Teams ----

func (s *PostgresStore) InsertTeam(ctx context.Context, team Team) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, name, description) VALUES ($1, $2, $3)
	`, team.ID, team.Name, team.Description)
	if err != nil {
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var team Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at FROM teams WHERE id=$1
	`, teamID).Scan(&team.ID, &team.Name, &team.Description, &team.CreatedAt)
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

func (s *PostgresStore) ListTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.description, t.created_at
		FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = $1
		ORDER BY t.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	items := make([]Team, 0)
	for rows.Next() {
		var team Team
		if err := rows.Scan(&team.ID, &team.Name, &team.Description, &team.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		items = append(items, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertTeamMember(ctx context.Context, member TeamMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (id, team_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, member.ID, member.TeamID, member.UserID, member.Role)
	if err != nil {
		return fmt.Errorf("upsert team member: %w", err)
	}
	return nil
}

// GetMembership returns nil (not an error) when the user has no row.
func (s *PostgresStore) GetMembership(ctx context.Context, teamID, userID string) (*TeamMember, error) {
	var member TeamMember
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, user_id, role, joined_at
		FROM team_members WHERE team_id=$1 AND user_id=$2
	`, teamID, userID).Scan(&member.ID, &member.TeamID, &member.UserID, &member.Role, &member.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &member, nil
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tm.id, tm.team_id, tm.user_id, tm.role, tm.joined_at, u.handle, u.display_name
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY tm.role, u.handle
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	items := make([]TeamMember, 0)
	for rows.Next() {
		var member TeamMember
		if err := rows.Scan(&member.ID, &member.TeamID, &member.UserID, &member.Role, &member.JoinedAt, &member.UserHandle, &member.UserDisplayName); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		items = append(items, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListTeamMemberUserIDs(ctx context.Context, teamID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM team_members WHERE team_id=$1`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member ids: %w", err)
	}
	return ids, nil
}

// ---- Decisions ----

const decisionColumns = `id, team_id, title, description, status, priority, created_by, assigned_to, due_date, decided_at, tags, impact_score, created_at, updated_at`

func scanDecision(row interface{ Scan(...any) error }) (Decision, error) {
	var item Decision
	err := row.Scan(
		&item.ID, &item.TeamID, &item.Title, &item.Description, &item.Status,
		&item.Priority, &item.CreatedBy, &item.AssignedTo, &item.DueDate,
		&item.DecidedAt, &item.Tags, &item.ImpactScore, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertDecision(ctx context.Context, item Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, team_id, title, description, status, priority, created_by, assigned_to, due_date, tags, impact_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.TeamID, item.Title, item.Description, item.Status, item.Priority,
		item.CreatedBy, item.AssignedTo, item.DueDate, item.Tags, item.ImpactScore)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDecision(ctx context.Context, decisionID string) (Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id=$1`, decisionID)
	return scanDecision(row)
}

// UpdateDecision persists the editable fields. Last write wins: no version
// token is checked, the audit trail keeps each writer's view.
func (s *PostgresStore) UpdateDecision(ctx context.Context, item Decision) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE decisions
		SET title=$2, description=$3, status=$4, priority=$5, assigned_to=$6,
			due_date=$7, decided_at=$8, tags=$9, impact_score=$10, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.Status, item.Priority,
		item.AssignedTo, item.DueDate, item.DecidedAt, item.Tags, item.ImpactScore)
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDecisionStatus(ctx context.Context, decisionID, status string, decidedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET status=$2, decided_at=$3, updated_at=NOW() WHERE id=$1
	`, decisionID, status, decidedAt)
	if err != nil {
		return fmt.Errorf("update decision status: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDecision(ctx context.Context, decisionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE id=$1`, decisionID)
	if err != nil {
		return fmt.Errorf("delete decision: %w", err)
	}
	return nil
}

// ListDecisionsForUser returns decisions in teams the user belongs to,
// newest activity first, narrowed by the filter.
func (s *PostgresStore) ListDecisionsForUser(ctx context.Context, userID string, filter DecisionFilter) ([]Decision, error) {
	query := `
		SELECT DISTINCT d.id, d.team_id, d.title, d.description, d.status, d.priority,
			d.created_by, d.assigned_to, d.due_date, d.decided_at, d.tags, d.impact_score,
			d.created_at, d.updated_at
		FROM decisions d
		JOIN team_members tm ON tm.team_id = d.team_id
		WHERE tm.user_id = $1
	`
	args := []any{userID}
	if filter.TeamID != "" {
		args = append(args, filter.TeamID)
		query += fmt.Sprintf(" AND d.team_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND d.status = $%d", len(args))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		query += fmt.Sprintf(" AND d.priority = $%d", len(args))
	}
	if filter.Query != "" {
		args = append(args, "%"+strings.TrimSpace(filter.Query)+"%")
		query += fmt.Sprintf(" AND (d.title ILIKE $%d OR d.description ILIKE $%d OR d.tags ILIKE $%d)", len(args), len(args), len(args))
	}
	query += " ORDER BY d.updated_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	items := make([]Decision, 0)
	for rows.Next() {
		item, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDecisionsByTeam(ctx context.Context, teamID string) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionColumns+` FROM decisions WHERE team_id=$1 ORDER BY updated_at DESC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team decisions: %w", err)
	}
	defer rows.Close()

	items := make([]Decision, 0)
	for rows.Next() {
		item, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return items, nil
}

// ListDecisionsDueWithin returns undecided decisions whose due date falls
// inside the window from now.
func (s *PostgresStore) ListDecisionsDueWithin(ctx context.Context, window time.Duration) ([]Decision, error) {
	cutoff := time.Now().Add(window)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE due_date IS NOT NULL AND decided_at IS NULL
		  AND due_date >= NOW() AND due_date <= $1
		ORDER BY due_date ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list due decisions: %w", err)
	}
	defer rows.Close()

	items := make([]Decision, 0)
	for rows.Next() {
		item, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due decisions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) HasNotification(ctx context.Context, userID, decisionID, notifType string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM notifications WHERE user_id=$1 AND decision_id=$2 AND notif_type=$3
		)
	`, userID, decisionID, notifType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return exists, nil
}

// ---- Options ----

func (s *PostgresStore) InsertOption(ctx context.Context, option DecisionOption) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_options (id, decision_id, title, description, pros, cons, estimated_cost, estimated_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, option.ID, option.DecisionID, option.Title, option.Description, option.Pros, option.Cons, option.EstimatedCost, option.EstimatedTime)
	if err != nil {
		return fmt.Errorf("insert option: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOption(ctx context.Context, optionID string) (DecisionOption, error) {
	var option DecisionOption
	err := s.db.QueryRowContext(ctx, `
		SELECT id, decision_id, title, description, pros, cons, estimated_cost, estimated_time, votes, is_selected, created_at
		FROM decision_options WHERE id=$1
	`, optionID).Scan(&option.ID, &option.DecisionID, &option.Title, &option.Description, &option.Pros,
		&option.Cons, &option.EstimatedCost, &option.EstimatedTime, &option.Votes, &option.IsSelected, &option.CreatedAt)
	if err != nil {
		return DecisionOption{}, err
	}
	return option, nil
}

func (s *PostgresStore) ListOptions(ctx context.Context, decisionID string) ([]DecisionOption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, title, description, pros, cons, estimated_cost, estimated_time, votes, is_selected, created_at
		FROM decision_options WHERE decision_id=$1 ORDER BY created_at
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionOption, 0)
	for rows.Next() {
		var option DecisionOption
		if err := rows.Scan(&option.ID, &option.DecisionID, &option.Title, &option.Description, &option.Pros,
			&option.Cons, &option.EstimatedCost, &option.EstimatedTime, &option.Votes, &option.IsSelected, &option.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		items = append(items, option)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountOptions(ctx context.Context, decisionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_options WHERE decision_id=$1`, decisionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count options: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) VoteOption(ctx context.Context, optionID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE decision_options SET votes = votes + 1 WHERE id=$1`, optionID)
	if err != nil {
		return fmt.Errorf("vote option: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SelectOption marks one option selected. Single-selection is not enforced
// by the model; this helper still clears siblings because that is what the
// web flow expects.
func (s *PostgresStore) SelectOption(ctx context.Context, decisionID, optionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin select option: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE decision_options SET is_selected = FALSE WHERE decision_id=$1`, decisionID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear selection: %w", err)
	}
	result, err := tx.ExecContext(ctx, `UPDATE decision_options SET is_selected = TRUE WHERE id=$1 AND decision_id=$2`, optionID, decisionID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("select option: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit select option: %w", err)
	}
	return nil
}

// ---- Reviews ----

func (s *PostgresStore) InsertReview(ctx context.Context, review DecisionReview) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_reviews (id, decision_id, reviewer_id, status, comment, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, review.ID, review.DecisionID, review.ReviewerID, review.Status, review.Comment, review.ReviewedAt)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, decisionID string) ([]DecisionReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.decision_id, r.reviewer_id, r.status, r.comment, r.created_at, r.reviewed_at, u.handle
		FROM decision_reviews r
		JOIN users u ON u.id = r.reviewer_id
		WHERE r.decision_id = $1
		ORDER BY r.created_at DESC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionReview, 0)
	for rows.Next() {
		var review DecisionReview
		if err := rows.Scan(&review.ID, &review.DecisionID, &review.ReviewerID, &review.Status,
			&review.Comment, &review.CreatedAt, &review.ReviewedAt, &review.ReviewerHandle); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}

// ---- Audit ----

func (s *PostgresStore) InsertAudit(ctx context.Context, entry DecisionAudit) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_audits (decision_id, user_id, action, changes)
		VALUES ($1, $2, $3, $4)
	`, entry.DecisionID, entry.UserID, entry.Action, changes)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, decisionID string) ([]DecisionAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.decision_id, a.user_id, a.action, a.changes, a.created_at, COALESCE(u.handle, '')
		FROM decision_audits a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.decision_id = $1
		ORDER BY a.created_at DESC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionAudit, 0)
	for rows.Next() {
		var entry DecisionAudit
		var changes []byte
		if err := rows.Scan(&entry.ID, &entry.DecisionID, &entry.UserID, &entry.Action, &changes, &entry.Timestamp, &entry.UserHandle); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &entry.Changes); err != nil {
				return nil, fmt.Errorf("decode audit changes: %w", err)
			}
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return items, nil
}

// ---- Comments ----

func (s *PostgresStore) InsertComment(ctx context.Context, comment DecisionComment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_comments (id, decision_id, user_id, parent_id, body)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.DecisionID, comment.UserID, comment.ParentID, comment.Text)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (DecisionComment, error) {
	var comment DecisionComment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, decision_id, user_id, parent_id, body, created_at, updated_at
		FROM decision_comments WHERE id=$1
	`, commentID).Scan(&comment.ID, &comment.DecisionID, &comment.UserID, &comment.ParentID,
		&comment.Text, &comment.CreatedAt, &comment.UpdatedAt)
	if err != nil {
		return DecisionComment{}, err
	}
	return comment, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, decisionID string) ([]DecisionComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.decision_id, c.user_id, c.parent_id, c.body, c.created_at, c.updated_at, u.handle
		FROM decision_comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.decision_id = $1
		ORDER BY c.created_at
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionComment, 0)
	for rows.Next() {
		var comment DecisionComment
		if err := rows.Scan(&comment.ID, &comment.DecisionID, &comment.UserID, &comment.ParentID,
			&comment.Text, &comment.CreatedAt, &comment.UpdatedAt, &comment.UserHandle); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// ---- Notifications ----

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, decision_id, notif_type, title, message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.UserID, item.DecisionID, item.Type, item.Title, item.Message)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT id, user_id, decision_id, notif_type, title, message, is_read, created_at
		FROM notifications WHERE user_id=$1
	`
	if unreadOnly {
		query += " AND is_read = FALSE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.DecisionID, &item.Type, &item.Title,
			&item.Message, &item.IsRead, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

// MarkNotificationRead is scoped to the owner: another user's id never
// matches and reports not found.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE user_id=$1 AND is_read = FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// ---- Refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.handle, u.display_name, u.email, u.is_staff
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Handle, &user.DisplayName, &user.Email, &user.IsStaff)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ---- Analytics ----

func (s *PostgresStore) DecisionBreakdownForUser(ctx context.Context, userID string) (StatusBreakdown, error) {
	breakdown := StatusBreakdown{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.status, d.priority, COUNT(DISTINCT d.id)
		FROM decisions d
		JOIN team_members tm ON tm.team_id = d.team_id
		WHERE tm.user_id = $1
		GROUP BY d.status, d.priority
	`, userID)
	if err != nil {
		return StatusBreakdown{}, fmt.Errorf("decision breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, priority string
		var count int
		if err := rows.Scan(&status, &priority, &count); err != nil {
			return StatusBreakdown{}, fmt.Errorf("scan breakdown: %w", err)
		}
		breakdown.Total += count
		breakdown.ByStatus[status] += count
		breakdown.ByPriority[priority] += count
	}
	if err := rows.Err(); err != nil {
		return StatusBreakdown{}, fmt.Errorf("iterate breakdown: %w", err)
	}

	var avgDays sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (d.decided_at - d.created_at)) / 86400.0)
		FROM decisions d
		JOIN team_members tm ON tm.team_id = d.team_id
		WHERE tm.user_id = $1 AND d.decided_at IS NOT NULL
	`, userID).Scan(&avgDays)
	if err != nil {
		return StatusBreakdown{}, fmt.Errorf("avg cycle days: %w", err)
	}
	if avgDays.Valid {
		breakdown.AvgCycleDays = &avgDays.Float64
	}
	return breakdown, nil
}

func (s *PostgresStore) TeamKPIs(ctx context.Context, teamID string) (TeamKPIs, error) {
	var kpis TeamKPIs
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE decided_at IS NOT NULL),
			COUNT(*) FILTER (WHERE status = 'draft')
		FROM decisions WHERE team_id=$1
	`, teamID).Scan(&kpis.TotalDecisions, &kpis.Completed, &kpis.Pending)
	if err != nil {
		return TeamKPIs{}, fmt.Errorf("team kpis: %w", err)
	}
	return kpis, nil
}

func (s *PostgresStore) UserStats(ctx context.Context, userID string) (UserStats, error) {
	var stats UserStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM decisions WHERE created_by=$1),
			(SELECT COUNT(*) FROM decision_reviews WHERE reviewer_id=$1 AND status IN ('approved', 'rejected')),
			(SELECT COUNT(*) FROM decision_reviews WHERE reviewer_id=$1 AND status = 'pending')
	`, userID).Scan(&stats.DecisionsCreated, &stats.ReviewsDone, &stats.ReviewsPending)
	if err != nil {
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	return stats, nil
}
