package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrem/medrem/internal/platform/apperr"
)

const defaultLinkCodeAttempts = 5

type Service struct {
	users        UserRepository
	logger       zerolog.Logger
	codeAttempts int
	newCode      func() (string, error)
}

func NewService(users UserRepository, logger zerolog.Logger) *Service {
	return &Service{
		users:        users,
		logger:       logger.With().Str("component", "identity").Logger(),
		codeAttempts: defaultLinkCodeAttempts,
		newCode:      NewLinkCode,
	}
}

// SetLinkCodeAttempts bounds how many fresh codes CreateUser tries when a
// generated code collides with an existing one.
func (s *Service) SetLinkCodeAttempts(n int) {
	if n > 0 {
		s.codeAttempts = n
	}
}

type CreateUserInput struct {
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Country  string `json:"country"`
	Timezone string `json:"timezone"`
	Language string `json:"language"`
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || in.Role == "" {
		return nil, apperr.Validation("Name and role are required")
	}
	if !in.Role.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("role must be %q or %q", RolePatient, RoleCaregiver))
	}

	u := &User{
		Name:        name,
		Role:        in.Role,
		LinkedUsers: []uuid.UUID{},
		Country:     DefaultCountry,
		Timezone:    DefaultTimezone,
		Language:    DefaultLanguage,
	}
	if in.Country != "" {
		u.Country = in.Country
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return nil, apperr.Validation(fmt.Sprintf("unknown timezone %q", in.Timezone))
		}
		u.Timezone = in.Timezone
	}
	if in.Language != "" {
		u.Language = in.Language
	}

	for attempt := 1; attempt <= s.codeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		u.ID = uuid.Nil
		u.LinkCode = code
		err = s.users.Create(ctx, u)
		if errors.Is(err, ErrLinkCodeTaken) {
			s.logger.Warn().Int("attempt", attempt).Msg("link code collision, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("user created")
		return u, nil
	}
	return nil, fmt.Errorf("create user: no unique link code after %d attempts", s.codeAttempts)
}

// LinkResult is the outcome of a successful link. RequesterLinks is the
// requester's linked users after the link, in link order.
type LinkResult struct {
	Requester      *User
	Target         *User
	RequesterLinks []LinkedUserSummary
}

func (s *Service) LinkUsers(ctx context.Context, requesterID uuid.UUID, code string) (*LinkResult, error) {
	code = NormalizeLinkCode(code)
	if code == "" {
		return nil, apperr.Validation("linkCode is required")
	}

	target, err := s.users.GetByLinkCode(ctx, code)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apperr.NotFound("Link code not found")
	}
	if err != nil {
		return nil, err
	}
	requester, err := s.users.GetByID(ctx, requesterID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apperr.NotFound("Requester not found")
	}
	if err != nil {
		return nil, err
	}
	if requester.ID == target.ID {
		return nil, apperr.Validation("Cannot link a user to themselves")
	}
	if requester.IsLinkedTo(target.ID) {
		return nil, apperr.Conflict("Users are already linked")
	}

	err = s.users.Link(ctx, requester.ID, target.ID)
	if errors.Is(err, ErrAlreadyLinked) {
		return nil, apperr.Conflict("Users are already linked")
	}
	if err != nil {
		return nil, fmt.Errorf("link users: %w", err)
	}

	if requester, err = s.users.GetByID(ctx, requester.ID); err != nil {
		return nil, err
	}
	if target, err = s.users.GetByID(ctx, target.ID); err != nil {
		return nil, err
	}
	linked, err := s.users.ListByIDs(ctx, requester.LinkedUsers)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("requester_id", requester.ID.String()).
		Str("target_id", target.ID.String()).
		Msg("users linked")

	return &LinkResult{
		Requester:      requester,
		Target:         target,
		RequesterLinks: summarize(orderLike(requester.LinkedUsers, linked)),
	}, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	return u, err
}

// ListLinked returns u's linked users, optionally restricted to role, in the
// order they were linked. Ids that no longer resolve are skipped.
func (s *Service) ListLinked(ctx context.Context, u *User, role Role) ([]*User, error) {
	users, err := s.users.ListByIDs(ctx, u.LinkedUsers)
	if err != nil {
		return nil, fmt.Errorf("list linked users: %w", err)
	}
	users = orderLike(u.LinkedUsers, users)
	if role == "" {
		return users, nil
	}
	out := users[:0]
	for _, lu := range users {
		if lu.Role == role {
			out = append(out, lu)
		}
	}
	return out, nil
}

func orderLike(ids []uuid.UUID, users []*User) []*User {
	byID := make(map[uuid.UUID]*User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]*User, 0, len(users))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
			delete(byID, id)
		}
	}
	return out
}

func summarize(users []*User) []LinkedUserSummary {
	out := make([]LinkedUserSummary, len(users))
	for i, u := range users {
		out[i] = u.Summary()
	}
	return out
}
