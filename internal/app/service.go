package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"decidehub/internal/auth"
	"decidehub/internal/authpw"
	"decidehub/internal/config"
	"decidehub/internal/notify"
	"decidehub/internal/perm"
	"decidehub/internal/quality"
	"decidehub/internal/search"
	"decidehub/internal/store"
	"decidehub/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Handle       string
	DisplayName  string
	IsStaff      bool
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) actor() perm.Actor {
	return perm.Actor{ID: s.UserID, IsStaff: s.IsStaff}
}

// membership adapts a stored team member row for the perm predicates. The
// role string is passed through untouched so legacy role names keep working.
func membership(m *store.TeamMember) *perm.Membership {
	if m == nil {
		return nil
	}
	return &perm.Membership{UserID: m.UserID, TeamID: m.TeamID, Role: perm.Role(m.Role)}
}

var validStatuses = map[string]struct{}{
	store.StatusDraft:       {},
	store.StatusReview:      {},
	store.StatusApproved:    {},
	store.StatusImplemented: {},
	store.StatusRejected:    {},
}

var validPriorities = map[string]struct{}{
	store.PriorityLow:      {},
	store.PriorityMedium:   {},
	store.PriorityHigh:     {},
	store.PriorityCritical: {},
}

var validReviewStatuses = map[string]struct{}{
	store.ReviewPending:          {},
	store.ReviewApproved:         {},
	store.ReviewRejected:         {},
	store.ReviewChangesRequested: {},
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByHandle(ctx context.Context, handle string) (store.User, error)

	InsertTeam(ctx context.Context, team store.Team) error
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	ListTeamsForUser(ctx context.Context, userID string) ([]store.Team, error)
	UpsertTeamMember(ctx context.Context, member store.TeamMember) error
	GetMembership(ctx context.Context, teamID, userID string) (*store.TeamMember, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error)
	ListTeamMemberUserIDs(ctx context.Context, teamID string) ([]string, error)

	InsertDecision(ctx context.Context, item store.Decision) error
	GetDecision(ctx context.Context, decisionID string) (store.Decision, error)
	UpdateDecision(ctx context.Context, item store.Decision) error
	UpdateDecisionStatus(ctx context.Context, decisionID, status string, decidedAt *time.Time) error
	DeleteDecision(ctx context.Context, decisionID string) error
	ListDecisionsForUser(ctx context.Context, userID string, filter store.DecisionFilter) ([]store.Decision, error)
	ListDecisionsByTeam(ctx context.Context, teamID string) ([]store.Decision, error)
	ListDecisionsDueWithin(ctx context.Context, window time.Duration) ([]store.Decision, error)

	InsertOption(ctx context.Context, option store.DecisionOption) error
	GetOption(ctx context.Context, optionID string) (store.DecisionOption, error)
	ListOptions(ctx context.Context, decisionID string) ([]store.DecisionOption, error)
	CountOptions(ctx context.Context, decisionID string) (int, error)
	VoteOption(ctx context.Context, optionID string) error
	SelectOption(ctx context.Context, decisionID, optionID string) error

	InsertReview(ctx context.Context, review store.DecisionReview) error
	ListReviews(ctx context.Context, decisionID string) ([]store.DecisionReview, error)

	InsertAudit(ctx context.Context, entry store.DecisionAudit) error
	ListAudit(ctx context.Context, decisionID string) ([]store.DecisionAudit, error)

	InsertComment(ctx context.Context, comment store.DecisionComment) error
	GetComment(ctx context.Context, commentID string) (store.DecisionComment, error)
	ListComments(ctx context.Context, decisionID string) ([]store.DecisionComment, error)

	InsertNotification(ctx context.Context, item store.Notification) error
	HasNotification(ctx context.Context, userID, decisionID, notifType string) (bool, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error

	DecisionBreakdownForUser(ctx context.Context, userID string) (store.StatusBreakdown, error)
	TeamKPIs(ctx context.Context, teamID string) (store.TeamKPIs, error)
	UserStats(ctx context.Context, userID string) (store.UserStats, error)
}

// sessionStore holds refresh tokens. Redis when configured, Postgres otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDecision(r search.Record)
	DeleteDecision(id string)
}

type qualityEnricher interface {
	Enrich(ctx context.Context, in quality.Input, baseline quality.Result) quality.Result
	Summarize(ctx context.Context, title, description string) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	accounts *authpw.Service
	search   searchService
	enricher qualityEnricher
	notify   *notify.Dispatcher
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service, dispatcher *notify.Dispatcher) *Service {
	service := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		accounts: authpw.NewService(dataStore),
		notify:   dispatcher,
	}
	if searchService != nil {
		service.search = searchService
	}
	return service
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchService *search.Service, dispatcher *notify.Dispatcher) *Service {
	service := New(cfg, dataStore, searchService, dispatcher)
	service.sessions = sessions
	return service
}

// SetEnricher enables LLM enrichment of quality checks.
func (s *Service) SetEnricher(enricher qualityEnricher) {
	s.enricher = enricher
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) dispatch(ctx context.Context, userID string, decisionID *string, notifType, title, message string) {
	if s.notify == nil {
		return
	}
	s.notify.Send(ctx, userID, decisionID, notifType, title, message)
}

func (s *Service) dispatchToMany(ctx context.Context, userIDs []string, skipUserID string, decisionID *string, notifType, title, message string) {
	if s.notify == nil {
		return
	}
	s.notify.SendToMany(ctx, userIDs, skipUserID, decisionID, notifType, title, message)
}

// ---- Accounts and sessions ----

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		if strings.Contains(err.Error(), "already") {
			return Session{}, domainError(http.StatusConflict, "ACCOUNT_EXISTS", err.Error(), nil)
		}
		return Session{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:    user.ID,
		Handle: user.Handle,
		Staff:  user.IsStaff,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Handle:       user.Handle,
		DisplayName:  user.DisplayName,
		IsStaff:      user.IsStaff,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		Handle:      user.Handle,
		DisplayName: user.DisplayName,
		IsStaff:     user.IsStaff,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// ---- Teams ----

type CreateTeamInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateTeam creates a team and makes the creator its admin.
func (s *Service) CreateTeam(ctx context.Context, session Session, input CreateTeamInput) (store.Team, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Team{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Team name is required", nil)
	}

	team := store.Team{
		ID:          util.NewID("team"),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
	}
	if err := s.store.InsertTeam(ctx, team); err != nil {
		return store.Team{}, err
	}

	member := store.TeamMember{
		ID:     util.NewID("tmb"),
		TeamID: team.ID,
		UserID: session.UserID,
		Role:   string(perm.RoleAdmin),
	}
	if err := s.store.UpsertTeamMember(ctx, member); err != nil {
		return store.Team{}, err
	}
	return s.store.GetTeam(ctx, team.ID)
}

func (s *Service) ListMyTeams(ctx context.Context, session Session) ([]store.Team, error) {
	return s.store.ListTeamsForUser(ctx, session.UserID)
}

type TeamDetail struct {
	Team      store.Team         `json:"team"`
	Members   []store.TeamMember `json:"members"`
	Decisions []store.Decision   `json:"decisions"`
}

func (s *Service) GetTeamDetail(ctx context.Context, session Session, teamID string) (TeamDetail, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return TeamDetail{}, err
	}
	member, err := s.store.GetMembership(ctx, teamID, session.UserID)
	if err != nil {
		return TeamDetail{}, err
	}
	if !perm.CanViewTeam(session.actor(), membership(member)) {
		return TeamDetail{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of this team", nil)
	}

	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return TeamDetail{}, err
	}
	decisions, err := s.store.ListDecisionsByTeam(ctx, teamID)
	if err != nil {
		return TeamDetail{}, err
	}
	return TeamDetail{Team: team, Members: members, Decisions: decisions}, nil
}

type AddMemberInput struct {
	Handle string `json:"handle"`
	Role   string `json:"role"`
}

// AddTeamMember adds or re-roles a user. Only team admins and staff may do this.
func (s *Service) AddTeamMember(ctx context.Context, session Session, teamID string, input AddMemberInput) (store.TeamMember, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return store.TeamMember{}, err
	}

	actorMember, err := s.store.GetMembership(ctx, teamID, session.UserID)
	if err != nil {
		return store.TeamMember{}, err
	}
	isAdmin := actorMember != nil && perm.Normalize(actorMember.Role) == perm.RoleAdmin
	if !session.IsStaff && !isAdmin {
		return store.TeamMember{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only team admins can manage members", nil)
	}

	user, err := s.store.GetUserByHandle(ctx, strings.TrimSpace(input.Handle))
	if err != nil {
		return store.TeamMember{}, domainError(http.StatusNotFound, "NOT_FOUND", "No user with that handle", nil)
	}

	role := perm.Normalize(input.Role)
	member := store.TeamMember{
		ID:     util.NewID("tmb"),
		TeamID: teamID,
		UserID: user.ID,
		Role:   string(role),
	}
	if err := s.store.UpsertTeamMember(ctx, member); err != nil {
		return store.TeamMember{}, err
	}

	if user.ID != session.UserID {
		s.dispatch(ctx, user.ID, nil, store.NotifSystem,
			"Added to a team",
			"@"+session.Handle+" added you to a team as "+string(role))
	}

	stored, err := s.store.GetMembership(ctx, teamID, user.ID)
	if err != nil || stored == nil {
		return member, nil
	}
	return *stored, nil
}
