package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"decidehub/internal/audit"
	"decidehub/internal/authpw"
	"decidehub/internal/config"
	"decidehub/internal/notify"
	"decidehub/internal/store"
)

// fakeStore implements dataStore with overridable func fields. Unset getters
// report sql.ErrNoRows, unset writers succeed.
type fakeStore struct {
	pingFn func(ctx context.Context) error

	createUserFn      func(ctx context.Context, user store.User) error
	getUserByIDFn     func(ctx context.Context, userID string) (store.User, error)
	getUserByEmailFn  func(ctx context.Context, email string) (store.User, error)
	getUserByHandleFn func(ctx context.Context, handle string) (store.User, error)

	insertTeamFn            func(ctx context.Context, team store.Team) error
	getTeamFn               func(ctx context.Context, teamID string) (store.Team, error)
	listTeamsForUserFn      func(ctx context.Context, userID string) ([]store.Team, error)
	upsertTeamMemberFn      func(ctx context.Context, member store.TeamMember) error
	getMembershipFn         func(ctx context.Context, teamID, userID string) (*store.TeamMember, error)
	listTeamMembersFn       func(ctx context.Context, teamID string) ([]store.TeamMember, error)
	listTeamMemberUserIDsFn func(ctx context.Context, teamID string) ([]string, error)

	insertDecisionFn         func(ctx context.Context, item store.Decision) error
	getDecisionFn            func(ctx context.Context, decisionID string) (store.Decision, error)
	updateDecisionFn         func(ctx context.Context, item store.Decision) error
	updateDecisionStatusFn   func(ctx context.Context, decisionID, status string, decidedAt *time.Time) error
	deleteDecisionFn         func(ctx context.Context, decisionID string) error
	listDecisionsForUserFn   func(ctx context.Context, userID string, filter store.DecisionFilter) ([]store.Decision, error)
	listDecisionsByTeamFn    func(ctx context.Context, teamID string) ([]store.Decision, error)
	listDecisionsDueWithinFn func(ctx context.Context, window time.Duration) ([]store.Decision, error)

	insertOptionFn func(ctx context.Context, option store.DecisionOption) error
	getOptionFn    func(ctx context.Context, optionID string) (store.DecisionOption, error)
	listOptionsFn  func(ctx context.Context, decisionID string) ([]store.DecisionOption, error)
	countOptionsFn func(ctx context.Context, decisionID string) (int, error)
	voteOptionFn   func(ctx context.Context, optionID string) error
	selectOptionFn func(ctx context.Context, decisionID, optionID string) error

	insertReviewFn func(ctx context.Context, review store.DecisionReview) error
	listReviewsFn  func(ctx context.Context, decisionID string) ([]store.DecisionReview, error)

	insertAuditFn func(ctx context.Context, entry store.DecisionAudit) error
	listAuditFn   func(ctx context.Context, decisionID string) ([]store.DecisionAudit, error)

	insertCommentFn func(ctx context.Context, comment store.DecisionComment) error
	getCommentFn    func(ctx context.Context, commentID string) (store.DecisionComment, error)
	listCommentsFn  func(ctx context.Context, decisionID string) ([]store.DecisionComment, error)

	insertNotificationFn       func(ctx context.Context, item store.Notification) error
	hasNotificationFn          func(ctx context.Context, userID, decisionID, notifType string) (bool, error)
	listNotificationsFn        func(ctx context.Context, userID string, unreadOnly bool) ([]store.Notification, error)
	markNotificationReadFn     func(ctx context.Context, notificationID, userID string) error
	markAllNotificationsReadFn func(ctx context.Context, userID string) error

	decisionBreakdownForUserFn func(ctx context.Context, userID string) (store.StatusBreakdown, error)
	teamKPIsFn                 func(ctx context.Context, teamID string) (store.TeamKPIs, error)
	userStatsFn                func(ctx context.Context, userID string) (store.UserStats, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByHandle(ctx context.Context, handle string) (store.User, error) {
	if f.getUserByHandleFn != nil {
		return f.getUserByHandleFn(ctx, handle)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) InsertTeam(ctx context.Context, team store.Team) error {
	if f.insertTeamFn != nil {
		return f.insertTeamFn(ctx, team)
	}
	return nil
}

func (f *fakeStore) GetTeam(ctx context.Context, teamID string) (store.Team, error) {
	if f.getTeamFn != nil {
		return f.getTeamFn(ctx, teamID)
	}
	return store.Team{}, sql.ErrNoRows
}

func (f *fakeStore) ListTeamsForUser(ctx context.Context, userID string) ([]store.Team, error) {
	if f.listTeamsForUserFn != nil {
		return f.listTeamsForUserFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) UpsertTeamMember(ctx context.Context, member store.TeamMember) error {
	if f.upsertTeamMemberFn != nil {
		return f.upsertTeamMemberFn(ctx, member)
	}
	return nil
}

func (f *fakeStore) GetMembership(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
	if f.getMembershipFn != nil {
		return f.getMembershipFn(ctx, teamID, userID)
	}
	return nil, nil
}

func (f *fakeStore) ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error) {
	if f.listTeamMembersFn != nil {
		return f.listTeamMembersFn(ctx, teamID)
	}
	return nil, nil
}

func (f *fakeStore) ListTeamMemberUserIDs(ctx context.Context, teamID string) ([]string, error) {
	if f.listTeamMemberUserIDsFn != nil {
		return f.listTeamMemberUserIDsFn(ctx, teamID)
	}
	return nil, nil
}

func (f *fakeStore) InsertDecision(ctx context.Context, item store.Decision) error {
	if f.insertDecisionFn != nil {
		return f.insertDecisionFn(ctx, item)
	}
	return nil
}

func (f *fakeStore) GetDecision(ctx context.Context, decisionID string) (store.Decision, error) {
	if f.getDecisionFn != nil {
		return f.getDecisionFn(ctx, decisionID)
	}
	return store.Decision{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateDecision(ctx context.Context, item store.Decision) error {
	if f.updateDecisionFn != nil {
		return f.updateDecisionFn(ctx, item)
	}
	return nil
}

func (f *fakeStore) UpdateDecisionStatus(ctx context.Context, decisionID, status string, decidedAt *time.Time) error {
	if f.updateDecisionStatusFn != nil {
		return f.updateDecisionStatusFn(ctx, decisionID, status, decidedAt)
	}
	return nil
}

func (f *fakeStore) DeleteDecision(ctx context.Context, decisionID string) error {
	if f.deleteDecisionFn != nil {
		return f.deleteDecisionFn(ctx, decisionID)
	}
	return nil
}

func (f *fakeStore) ListDecisionsForUser(ctx context.Context, userID string, filter store.DecisionFilter) ([]store.Decision, error) {
	if f.listDecisionsForUserFn != nil {
		return f.listDecisionsForUserFn(ctx, userID, filter)
	}
	return nil, nil
}

func (f *fakeStore) ListDecisionsByTeam(ctx context.Context, teamID string) ([]store.Decision, error) {
	if f.listDecisionsByTeamFn != nil {
		return f.listDecisionsByTeamFn(ctx, teamID)
	}
	return nil, nil
}

func (f *fakeStore) ListDecisionsDueWithin(ctx context.Context, window time.Duration) ([]store.Decision, error) {
	if f.listDecisionsDueWithinFn != nil {
		return f.listDecisionsDueWithinFn(ctx, window)
	}
	return nil, nil
}

func (f *fakeStore) InsertOption(ctx context.Context, option store.DecisionOption) error {
	if f.insertOptionFn != nil {
		return f.insertOptionFn(ctx, option)
	}
	return nil
}

func (f *fakeStore) GetOption(ctx context.Context, optionID string) (store.DecisionOption, error) {
	if f.getOptionFn != nil {
		return f.getOptionFn(ctx, optionID)
	}
	return store.DecisionOption{}, sql.ErrNoRows
}

func (f *fakeStore) ListOptions(ctx context.Context, decisionID string) ([]store.DecisionOption, error) {
	if f.listOptionsFn != nil {
		return f.listOptionsFn(ctx, decisionID)
	}
	return nil, nil
}

func (f *fakeStore) CountOptions(ctx context.Context, decisionID string) (int, error) {
	if f.countOptionsFn != nil {
		return f.countOptionsFn(ctx, decisionID)
	}
	return 0, nil
}

func (f *fakeStore) VoteOption(ctx context.Context, optionID string) error {
	if f.voteOptionFn != nil {
		return f.voteOptionFn(ctx, optionID)
	}
	return nil
}

func (f *fakeStore) SelectOption(ctx context.Context, decisionID, optionID string) error {
	if f.selectOptionFn != nil {
		return f.selectOptionFn(ctx, decisionID, optionID)
	}
	return nil
}

func (f *fakeStore) InsertReview(ctx context.Context, review store.DecisionReview) error {
	if f.insertReviewFn != nil {
		return f.insertReviewFn(ctx, review)
	}
	return nil
}

func (f *fakeStore) ListReviews(ctx context.Context, decisionID string) ([]store.DecisionReview, error) {
	if f.listReviewsFn != nil {
		return f.listReviewsFn(ctx, decisionID)
	}
	return nil, nil
}

func (f *fakeStore) InsertAudit(ctx context.Context, entry store.DecisionAudit) error {
	if f.insertAuditFn != nil {
		return f.insertAuditFn(ctx, entry)
	}
	return nil
}

func (f *fakeStore) ListAudit(ctx context.Context, decisionID string) ([]store.DecisionAudit, error) {
	if f.listAuditFn != nil {
		return f.listAuditFn(ctx, decisionID)
	}
	return nil, nil
}

func (f *fakeStore) InsertComment(ctx context.Context, comment store.DecisionComment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	return nil
}

func (f *fakeStore) GetComment(ctx context.Context, commentID string) (store.DecisionComment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, commentID)
	}
	return store.DecisionComment{}, sql.ErrNoRows
}

func (f *fakeStore) ListComments(ctx context.Context, decisionID string) ([]store.DecisionComment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, decisionID)
	}
	return nil, nil
}

func (f *fakeStore) InsertNotification(ctx context.Context, item store.Notification) error {
	if f.insertNotificationFn != nil {
		return f.insertNotificationFn(ctx, item)
	}
	return nil
}

func (f *fakeStore) HasNotification(ctx context.Context, userID, decisionID, notifType string) (bool, error) {
	if f.hasNotificationFn != nil {
		return f.hasNotificationFn(ctx, userID, decisionID, notifType)
	}
	return false, nil
}

func (f *fakeStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]store.Notification, error) {
	if f.listNotificationsFn != nil {
		return f.listNotificationsFn(ctx, userID, unreadOnly)
	}
	return nil, nil
}

func (f *fakeStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	if f.markNotificationReadFn != nil {
		return f.markNotificationReadFn(ctx, notificationID, userID)
	}
	return nil
}

func (f *fakeStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	if f.markAllNotificationsReadFn != nil {
		return f.markAllNotificationsReadFn(ctx, userID)
	}
	return nil
}

func (f *fakeStore) DecisionBreakdownForUser(ctx context.Context, userID string) (store.StatusBreakdown, error) {
	if f.decisionBreakdownForUserFn != nil {
		return f.decisionBreakdownForUserFn(ctx, userID)
	}
	return store.StatusBreakdown{}, nil
}

func (f *fakeStore) TeamKPIs(ctx context.Context, teamID string) (store.TeamKPIs, error) {
	if f.teamKPIsFn != nil {
		return f.teamKPIsFn(ctx, teamID)
	}
	return store.TeamKPIs{}, nil
}

func (f *fakeStore) UserStats(ctx context.Context, userID string) (store.UserStats, error) {
	if f.userStatsFn != nil {
		return f.userStatsFn(ctx, userID)
	}
	return store.UserStats{}, nil
}

type fakeSessions struct {
	saved   map[string]store.User
	revoked []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: make(map[string]store.User)}
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.saved[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	user, ok := f.saved[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	delete(f.saved, tokenHash)
	f.revoked = append(f.revoked, tokenHash)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  time.Hour,
		},
		store:    fs,
		sessions: newFakeSessions(),
		accounts: authpw.NewService(fs),
	}
}

func memberOf(teamID, userID, role string) *store.TeamMember {
	return &store.TeamMember{ID: "tmb_1", TeamID: teamID, UserID: userID, Role: role}
}

func asDomainError(t *testing.T, err error) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr
}

func TestChangeDecisionStatusSetsDecidedAt(t *testing.T) {
	decision := store.Decision{
		ID:        "dec_1",
		TeamID:    "team_1",
		Title:     "Pick a queue",
		Status:    store.StatusReview,
		Priority:  store.PriorityMedium,
		CreatedBy: "usr_1",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}

	var actions []string
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return decision, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "admin"), nil
		},
		updateDecisionStatusFn: func(ctx context.Context, decisionID, status string, decidedAt *time.Time) error {
			if decidedAt == nil {
				t.Fatal("expected decided timestamp when entering a terminal status")
			}
			decision.Status = status
			decision.DecidedAt = decidedAt
			return nil
		},
		insertAuditFn: func(ctx context.Context, entry store.DecisionAudit) error {
			actions = append(actions, entry.Action)
			return nil
		},
	}

	service := newTestService(fs)
	session := Session{UserID: "usr_2", Handle: "blake"}

	updated, err := service.ChangeDecisionStatus(context.Background(), session, "dec_1", store.StatusApproved)
	if err != nil {
		t.Fatalf("ChangeDecisionStatus: %v", err)
	}
	if updated.Status != store.StatusApproved {
		t.Fatalf("status = %q, want approved", updated.Status)
	}
	if updated.DecidedAt == nil {
		t.Fatal("expected DecidedAt to be set")
	}
	if len(actions) != 1 || actions[0] != audit.ActionStatusChanged {
		t.Fatalf("audit actions = %v, want [status_changed]", actions)
	}
}

func TestChangeDecisionStatusClearsDecidedAtOnReopen(t *testing.T) {
	decidedAt := time.Now().Add(-time.Hour)
	decision := store.Decision{
		ID:        "dec_1",
		TeamID:    "team_1",
		Title:     "Pick a queue",
		Status:    store.StatusApproved,
		Priority:  store.PriorityMedium,
		CreatedBy: "usr_1",
		DecidedAt: &decidedAt,
	}

	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return decision, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "admin"), nil
		},
		updateDecisionStatusFn: func(ctx context.Context, decisionID, status string, decidedAt *time.Time) error {
			if decidedAt != nil {
				t.Fatal("expected decided timestamp to be cleared on reopen")
			}
			decision.Status = status
			decision.DecidedAt = decidedAt
			return nil
		},
	}

	service := newTestService(fs)
	session := Session{UserID: "usr_2", Handle: "blake"}

	updated, err := service.ChangeDecisionStatus(context.Background(), session, "dec_1", store.StatusReview)
	if err != nil {
		t.Fatalf("ChangeDecisionStatus: %v", err)
	}
	if updated.DecidedAt != nil {
		t.Fatal("expected DecidedAt to be cleared")
	}
}

func TestChangeDecisionStatusKeepsOriginalDecidedAtBetweenTerminals(t *testing.T) {
	decidedAt := time.Now().Add(-time.Hour)
	decision := store.Decision{
		ID:        "dec_1",
		TeamID:    "team_1",
		Title:     "Pick a queue",
		Status:    store.StatusApproved,
		Priority:  store.PriorityMedium,
		CreatedBy: "usr_1",
		DecidedAt: &decidedAt,
	}

	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return decision, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "admin"), nil
		},
		updateDecisionStatusFn: func(ctx context.Context, decisionID, status string, got *time.Time) error {
			if got == nil || !got.Equal(decidedAt) {
				t.Fatalf("decided timestamp changed: got %v, want %v", got, decidedAt)
			}
			decision.Status = status
			return nil
		},
	}

	service := newTestService(fs)
	session := Session{UserID: "usr_2"}

	if _, err := service.ChangeDecisionStatus(context.Background(), session, "dec_1", store.StatusRejected); err != nil {
		t.Fatalf("ChangeDecisionStatus: %v", err)
	}
}

func TestChangeDecisionStatusSameStatusIsNoOp(t *testing.T) {
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: "dec_1", TeamID: "team_1", Status: store.StatusDraft, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "admin"), nil
		},
		updateDecisionStatusFn: func(ctx context.Context, decisionID, status string, decidedAt *time.Time) error {
			t.Fatal("unexpected status write for a no-op transition")
			return nil
		},
		insertAuditFn: func(ctx context.Context, entry store.DecisionAudit) error {
			t.Fatal("unexpected audit entry for a no-op transition")
			return nil
		},
	}

	service := newTestService(fs)
	if _, err := service.ChangeDecisionStatus(context.Background(), Session{UserID: "usr_2"}, "dec_1", store.StatusDraft); err != nil {
		t.Fatalf("ChangeDecisionStatus: %v", err)
	}
}

func TestChangeDecisionStatusRejectsUnknownStatus(t *testing.T) {
	service := newTestService(&fakeStore{})
	_, err := service.ChangeDecisionStatus(context.Background(), Session{UserID: "usr_1"}, "dec_1", "archived")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("code = %q, want VALIDATION_ERROR", domainErr.Code)
	}
}

func TestCreateDecisionRequiresTitle(t *testing.T) {
	service := newTestService(&fakeStore{})
	_, err := service.CreateDecision(context.Background(), Session{UserID: "usr_1"}, CreateDecisionInput{TeamID: "team_1", Title: "   "})
	domainErr := asDomainError(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("code = %q, want VALIDATION_ERROR", domainErr.Code)
	}
}

func TestCreateDecisionForbiddenForObserver(t *testing.T) {
	fs := &fakeStore{
		getTeamFn: func(ctx context.Context, teamID string) (store.Team, error) {
			return store.Team{ID: teamID, Name: "Platform"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "observer"), nil
		},
	}
	service := newTestService(fs)

	_, err := service.CreateDecision(context.Background(), Session{UserID: "usr_1"}, CreateDecisionInput{TeamID: "team_1", Title: "Pick a queue"})
	domainErr := asDomainError(t, err)
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("code = %q, want FORBIDDEN", domainErr.Code)
	}
}

func TestCreateDecisionToleratesAuditFailure(t *testing.T) {
	var inserted store.Decision
	fs := &fakeStore{
		getTeamFn: func(ctx context.Context, teamID string) (store.Team, error) {
			return store.Team{ID: teamID, Name: "Platform"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "decision_maker"), nil
		},
		insertDecisionFn: func(ctx context.Context, item store.Decision) error {
			inserted = item
			return nil
		},
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return inserted, nil
		},
		insertAuditFn: func(ctx context.Context, entry store.DecisionAudit) error {
			return errors.New("audit table unavailable")
		},
	}
	service := newTestService(fs)

	decision, err := service.CreateDecision(context.Background(), Session{UserID: "usr_1"}, CreateDecisionInput{TeamID: "team_1", Title: "Pick a queue"})
	if err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}
	if decision.Status != store.StatusDraft {
		t.Fatalf("status = %q, want draft", decision.Status)
	}
	if decision.Priority != store.PriorityMedium {
		t.Fatalf("priority = %q, want medium", decision.Priority)
	}
}

func TestCreateDecisionDirectlyTerminalGetsDecidedAt(t *testing.T) {
	var inserted store.Decision
	fs := &fakeStore{
		getTeamFn: func(ctx context.Context, teamID string) (store.Team, error) {
			return store.Team{ID: teamID}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "admin"), nil
		},
		insertDecisionFn: func(ctx context.Context, item store.Decision) error {
			inserted = item
			return nil
		},
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return inserted, nil
		},
	}
	service := newTestService(fs)

	decision, err := service.CreateDecision(context.Background(), Session{UserID: "usr_1"}, CreateDecisionInput{
		TeamID: "team_1",
		Title:  "Already settled",
		Status: store.StatusApproved,
	})
	if err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}
	if decision.DecidedAt == nil {
		t.Fatal("expected DecidedAt on a decision created in a terminal status")
	}
}

func TestCreatorCanEditOnlyWhileOpen(t *testing.T) {
	for _, tc := range []struct {
		status  string
		allowed bool
	}{
		{store.StatusDraft, true},
		{store.StatusReview, true},
		{store.StatusApproved, false},
	} {
		decision := store.Decision{ID: "dec_1", TeamID: "team_1", Title: "Old", Status: tc.status, CreatedBy: "usr_1"}
		fs := &fakeStore{
			getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
				return decision, nil
			},
			getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
				return memberOf(teamID, userID, "reviewer"), nil
			},
			updateDecisionFn: func(ctx context.Context, item store.Decision) error {
				decision = item
				return nil
			},
		}
		service := newTestService(fs)

		title := "New title"
		_, err := service.UpdateDecisionFields(context.Background(), Session{UserID: "usr_1"}, "dec_1", UpdateDecisionInput{Title: &title})
		if tc.allowed && err != nil {
			t.Fatalf("status %s: expected edit to succeed, got %v", tc.status, err)
		}
		if !tc.allowed {
			domainErr := asDomainError(t, err)
			if domainErr.Code != "FORBIDDEN" {
				t.Fatalf("status %s: code = %q, want FORBIDDEN", tc.status, domainErr.Code)
			}
		}
	}
}

func TestUpdateDecisionNoChangesSkipsWrite(t *testing.T) {
	due := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	decision := store.Decision{ID: "dec_1", TeamID: "team_1", Title: "Same", Status: store.StatusDraft, Priority: store.PriorityLow, CreatedBy: "usr_1", DueDate: &due}
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return decision, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "admin"), nil
		},
		updateDecisionFn: func(ctx context.Context, item store.Decision) error {
			t.Fatal("unexpected write when nothing changed")
			return nil
		},
		insertAuditFn: func(ctx context.Context, entry store.DecisionAudit) error {
			t.Fatal("unexpected audit entry when nothing changed")
			return nil
		},
	}
	service := newTestService(fs)

	title := "Same"
	priority := store.PriorityLow
	sameDue := due
	if _, err := service.UpdateDecisionFields(context.Background(), Session{UserID: "usr_1"}, "dec_1", UpdateDecisionInput{Title: &title, Priority: &priority, DueDate: &sameDue}); err != nil {
		t.Fatalf("UpdateDecisionFields: %v", err)
	}
}

func TestUpdateDecisionRejectsUnknownAssignee(t *testing.T) {
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: "dec_1", TeamID: "team_1", Status: store.StatusDraft, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "admin"), nil
		},
	}
	service := newTestService(fs)

	assignee := "usr_ghost"
	_, err := service.UpdateDecisionFields(context.Background(), Session{UserID: "usr_1"}, "dec_1", UpdateDecisionInput{AssignedTo: &assignee})
	domainErr := asDomainError(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("code = %q, want VALIDATION_ERROR", domainErr.Code)
	}
}

func TestRemoveDecisionWritesAuditBeforeDelete(t *testing.T) {
	var events []string
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: "dec_1", TeamID: "team_1", Title: "Doomed", Status: store.StatusDraft, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "admin"), nil
		},
		insertAuditFn: func(ctx context.Context, entry store.DecisionAudit) error {
			events = append(events, "audit:"+entry.Action)
			return nil
		},
		deleteDecisionFn: func(ctx context.Context, decisionID string) error {
			events = append(events, "delete")
			return nil
		},
	}
	service := newTestService(fs)

	if err := service.RemoveDecision(context.Background(), Session{UserID: "usr_2"}, "dec_1"); err != nil {
		t.Fatalf("RemoveDecision: %v", err)
	}
	if len(events) != 2 || events[0] != "audit:"+audit.ActionDeleted || events[1] != "delete" {
		t.Fatalf("events = %v, want audit before delete", events)
	}
}

func TestVoteForOptionRejectsForeignOption(t *testing.T) {
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: decisionID, TeamID: "team_1", Status: store.StatusDraft, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "observer"), nil
		},
		getOptionFn: func(ctx context.Context, optionID string) (store.DecisionOption, error) {
			return store.DecisionOption{ID: optionID, DecisionID: "dec_other"}, nil
		},
	}
	service := newTestService(fs)

	_, err := service.VoteForOption(context.Background(), Session{UserID: "usr_1"}, "dec_1", "opt_1")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "NOT_FOUND" {
		t.Fatalf("code = %q, want NOT_FOUND", domainErr.Code)
	}
}

func TestSubmitReviewForbiddenForObserver(t *testing.T) {
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: decisionID, TeamID: "team_1", Status: store.StatusReview, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "observer"), nil
		},
	}
	service := newTestService(fs)

	_, err := service.SubmitReview(context.Background(), Session{UserID: "usr_2"}, "dec_1", SubmitReviewInput{Status: store.ReviewApproved})
	domainErr := asDomainError(t, err)
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("code = %q, want FORBIDDEN", domainErr.Code)
	}
}

func TestSubmitReviewRejectsUnknownStatus(t *testing.T) {
	service := newTestService(&fakeStore{})
	_, err := service.SubmitReview(context.Background(), Session{UserID: "usr_2"}, "dec_1", SubmitReviewInput{Status: "maybe"})
	domainErr := asDomainError(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("code = %q, want VALIDATION_ERROR", domainErr.Code)
	}
}

func TestSubmitReviewNotifiesCreator(t *testing.T) {
	var notified []store.Notification
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: decisionID, TeamID: "team_1", Title: "Pick a queue", Status: store.StatusReview, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "reviewer"), nil
		},
		insertNotificationFn: func(ctx context.Context, item store.Notification) error {
			notified = append(notified, item)
			return nil
		},
	}
	service := newTestService(fs)
	service.notify = notify.NewDispatcher(fs, nil)

	review, err := service.SubmitReview(context.Background(), Session{UserID: "usr_2", Handle: "blake"}, "dec_1", SubmitReviewInput{Status: store.ReviewApproved, Comment: "ship it"})
	if err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	if review.ReviewerHandle != "blake" {
		t.Fatalf("reviewer handle = %q, want blake", review.ReviewerHandle)
	}
	if len(notified) != 1 || notified[0].UserID != "usr_1" {
		t.Fatalf("notifications = %+v, want one for the creator", notified)
	}
}

func TestSubmitReviewPendingLeavesReviewedAtUnset(t *testing.T) {
	var inserted []store.DecisionReview
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: decisionID, TeamID: "team_1", Status: store.StatusReview, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "reviewer"), nil
		},
		insertReviewFn: func(ctx context.Context, review store.DecisionReview) error {
			inserted = append(inserted, review)
			return nil
		},
	}
	service := newTestService(fs)

	if _, err := service.SubmitReview(context.Background(), Session{UserID: "usr_2", Handle: "blake"}, "dec_1", SubmitReviewInput{Status: store.ReviewPending}); err != nil {
		t.Fatalf("SubmitReview(pending): %v", err)
	}
	if _, err := service.SubmitReview(context.Background(), Session{UserID: "usr_2", Handle: "blake"}, "dec_1", SubmitReviewInput{Status: store.ReviewApproved}); err != nil {
		t.Fatalf("SubmitReview(approved): %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("inserted %d reviews, want 2", len(inserted))
	}
	if inserted[0].Status != store.ReviewPending || inserted[0].ReviewedAt != nil {
		t.Fatalf("pending review = %+v, want reviewed_at unset", inserted[0])
	}
	if inserted[1].ReviewedAt == nil {
		t.Fatal("approved review has no reviewed_at")
	}
}

func TestListDecisionReviewsTallies(t *testing.T) {
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: decisionID, TeamID: "team_1", Status: store.StatusReview, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "observer"), nil
		},
		listReviewsFn: func(ctx context.Context, decisionID string) ([]store.DecisionReview, error) {
			return []store.DecisionReview{
				{Status: store.ReviewApproved},
				{Status: store.ReviewApproved},
				{Status: store.ReviewRejected},
				{Status: store.ReviewChangesRequested},
			}, nil
		},
	}
	service := newTestService(fs)

	list, err := service.ListDecisionReviews(context.Background(), Session{UserID: "usr_2"}, "dec_1")
	if err != nil {
		t.Fatalf("ListDecisionReviews: %v", err)
	}
	if list.Approvals != 2 || list.Rejections != 1 || list.ChangesRequested != 1 {
		t.Fatalf("tallies = %d/%d/%d, want 2/1/1", list.Approvals, list.Rejections, list.ChangesRequested)
	}
}

func TestAddCommentRejectsForeignParent(t *testing.T) {
	parent := "cmt_parent"
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: decisionID, TeamID: "team_1", Status: store.StatusDraft, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "observer"), nil
		},
		getCommentFn: func(ctx context.Context, commentID string) (store.DecisionComment, error) {
			return store.DecisionComment{ID: commentID, DecisionID: "dec_other"}, nil
		},
	}
	service := newTestService(fs)

	_, err := service.AddComment(context.Background(), Session{UserID: "usr_2"}, "dec_1", AddCommentInput{Text: "hi", ParentID: &parent})
	domainErr := asDomainError(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("code = %q, want VALIDATION_ERROR", domainErr.Code)
	}
}

func TestAddCommentNotifiesOnlyTeamMembers(t *testing.T) {
	users := map[string]store.User{
		"teammate": {ID: "usr_3", Handle: "teammate"},
		"outsider": {ID: "usr_4", Handle: "outsider"},
	}
	var notified []store.Notification
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: decisionID, TeamID: "team_1", Title: "Pick a queue", Status: store.StatusDraft, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			if userID == "usr_4" {
				return nil, nil
			}
			return memberOf(teamID, userID, "observer"), nil
		},
		getUserByHandleFn: func(ctx context.Context, handle string) (store.User, error) {
			user, ok := users[handle]
			if !ok {
				return store.User{}, sql.ErrNoRows
			}
			return user, nil
		},
		insertNotificationFn: func(ctx context.Context, item store.Notification) error {
			notified = append(notified, item)
			return nil
		},
	}
	service := newTestService(fs)
	service.notify = notify.NewDispatcher(fs, nil)

	_, err := service.AddComment(context.Background(), Session{UserID: "usr_2", Handle: "blake"}, "dec_1", AddCommentInput{
		Text: "cc @teammate and @outsider and @nobody",
	})
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if len(notified) != 1 {
		t.Fatalf("notifications = %+v, want exactly one", notified)
	}
	if notified[0].UserID != "usr_3" || notified[0].Type != store.NotifMention {
		t.Fatalf("notification = %+v, want mention for usr_3", notified[0])
	}
}

func TestAddCommentTruncatesAuditText(t *testing.T) {
	long := make([]byte, 0, 400)
	for len(long) < 400 {
		long = append(long, 'a')
	}
	var recorded store.DecisionAudit
	fs := &fakeStore{
		getDecisionFn: func(ctx context.Context, decisionID string) (store.Decision, error) {
			return store.Decision{ID: decisionID, TeamID: "team_1", Status: store.StatusDraft, CreatedBy: "usr_1"}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "observer"), nil
		},
		insertAuditFn: func(ctx context.Context, entry store.DecisionAudit) error {
			recorded = entry
			return nil
		},
	}
	service := newTestService(fs)

	if _, err := service.AddComment(context.Background(), Session{UserID: "usr_2"}, "dec_1", AddCommentInput{Text: string(long)}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	value, ok := recorded.Changes["comment"]
	if !ok {
		t.Fatal("expected a comment change in the audit entry")
	}
	text, _ := value.Scalar.(string)
	if len(text) != commentAuditLimit {
		t.Fatalf("audit comment length = %d, want %d", len(text), commentAuditLimit)
	}
}

func TestSignUpDuplicateEmailMapsToConflict(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Email: email}, nil
		},
	}
	service := newTestService(fs)

	_, err := service.SignUp(context.Background(), authpw.SignUpRequest{
		Handle:   "avery",
		Email:    "avery@example.com",
		Password: "hunter2hunter2",
	})
	domainErr := asDomainError(t, err)
	if domainErr.Code != "ACCOUNT_EXISTS" {
		t.Fatalf("code = %q, want ACCOUNT_EXISTS", domainErr.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(ctx context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Handle: "avery"}, nil
		},
	}
	service := newTestService(fs)
	sessions := service.sessions.(*fakeSessions)

	first, err := service.issueSession(context.Background(), store.User{ID: "usr_1", Handle: "avery"})
	if err != nil {
		t.Fatalf("issueSession: %v", err)
	}

	second, err := service.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected a new refresh token after rotation")
	}
	if len(sessions.revoked) != 1 {
		t.Fatalf("revoked = %v, want the old token hash revoked", sessions.revoked)
	}

	if _, err := service.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatal("expected the rotated-out token to be rejected")
	}
}

func TestSweepDeadlinesNotifiesOncePerDecision(t *testing.T) {
	due := time.Now().Add(12 * time.Hour)
	assignee := "usr_5"
	decisions := []store.Decision{
		{ID: "dec_1", TeamID: "team_1", Title: "Owned", CreatedBy: "usr_1", AssignedTo: &assignee, DueDate: &due},
		{ID: "dec_2", TeamID: "team_1", Title: "Unowned", CreatedBy: "usr_1", DueDate: &due},
		{ID: "dec_3", TeamID: "team_1", Title: "Already pinged", CreatedBy: "usr_1", DueDate: &due},
	}
	var notified []store.Notification
	fs := &fakeStore{
		listDecisionsDueWithinFn: func(ctx context.Context, window time.Duration) ([]store.Decision, error) {
			return decisions, nil
		},
		hasNotificationFn: func(ctx context.Context, userID, decisionID, notifType string) (bool, error) {
			return decisionID == "dec_3", nil
		},
		insertNotificationFn: func(ctx context.Context, item store.Notification) error {
			notified = append(notified, item)
			return nil
		},
	}
	service := newTestService(fs)
	service.notify = notify.NewDispatcher(fs, nil)

	if err := service.SweepDeadlines(context.Background(), 24*time.Hour); err != nil {
		t.Fatalf("SweepDeadlines: %v", err)
	}
	if len(notified) != 2 {
		t.Fatalf("notifications = %+v, want two", notified)
	}
	if notified[0].UserID != "usr_5" {
		t.Fatalf("first notification to %s, want the assignee", notified[0].UserID)
	}
	if notified[1].UserID != "usr_1" {
		t.Fatalf("second notification to %s, want the creator", notified[1].UserID)
	}
	for _, item := range notified {
		if item.Type != store.NotifDeadline {
			t.Fatalf("type = %q, want deadline", item.Type)
		}
	}
}

func TestAddTeamMemberRequiresAdmin(t *testing.T) {
	fs := &fakeStore{
		getTeamFn: func(ctx context.Context, teamID string) (store.Team, error) {
			return store.Team{ID: teamID}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			return memberOf(teamID, userID, "decision_maker"), nil
		},
	}
	service := newTestService(fs)

	_, err := service.AddTeamMember(context.Background(), Session{UserID: "usr_1"}, "team_1", AddMemberInput{Handle: "avery", Role: "reviewer"})
	domainErr := asDomainError(t, err)
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("code = %q, want FORBIDDEN", domainErr.Code)
	}
}

func TestAddTeamMemberNormalizesUnknownRole(t *testing.T) {
	var upserted store.TeamMember
	fs := &fakeStore{
		getTeamFn: func(ctx context.Context, teamID string) (store.Team, error) {
			return store.Team{ID: teamID}, nil
		},
		getMembershipFn: func(ctx context.Context, teamID, userID string) (*store.TeamMember, error) {
			if userID == "usr_1" {
				return memberOf(teamID, userID, "admin"), nil
			}
			return &upserted, nil
		},
		getUserByHandleFn: func(ctx context.Context, handle string) (store.User, error) {
			return store.User{ID: "usr_9", Handle: handle}, nil
		},
		upsertTeamMemberFn: func(ctx context.Context, member store.TeamMember) error {
			upserted = member
			return nil
		},
	}
	service := newTestService(fs)

	member, err := service.AddTeamMember(context.Background(), Session{UserID: "usr_1", Handle: "lead"}, "team_1", AddMemberInput{Handle: "avery", Role: "wizard"})
	if err != nil {
		t.Fatalf("AddTeamMember: %v", err)
	}
	if member.Role != "observer" {
		t.Fatalf("role = %q, want observer", member.Role)
	}
}
