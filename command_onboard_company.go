package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type OnboardCompanyMessage struct {
	Token      string                             `json:"-"`
	Name       string                             `json:"name"`
	Website    string                             `json:"website"`
	OnResponse func(resp *OnboardCompanyResponse) `json:"-"`
}

func (e OnboardCompanyMessage) Type() string { return "company.onboard" }

func (e OnboardCompanyMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.Website, is.URL),
	)
}

type OnboardCompanyResponse struct {
	Company *Company
	User    *User
}

// OnboardCompanyHandler redeems an onboarding token and creates the
// company of a PrimaryAdmin. The token is consumed first so two
// concurrent requests cannot both create a company.
type OnboardCompanyHandler struct {
	repo     RepositoryManager
	sessions *SessionManager
}

func NewOnboardCompanyHandler(repo RepositoryManager, sessions *SessionManager) *OnboardCompanyHandler {
	return &OnboardCompanyHandler{repo: repo, sessions: sessions}
}

func (h *OnboardCompanyHandler) Execute(ctx context.Context, event OnboardCompanyMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during company onboarding",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *OnboardCompanyHandler) execute(ctx context.Context, event OnboardCompanyMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return withMetadata(ErrInvalidInput, map[string]any{"reason": err.Error()})
	}

	claims, err := h.sessions.codec.ParseKind(event.Token, TokenOnboardCompany)
	if err != nil {
		return err
	}

	owner, err := subjectID(claims)
	if err != nil {
		return err
	}

	if _, err := h.sessions.ledger.Consume(ctx, event.Token, TokenOnboardCompany, owner); err != nil {
		return err
	}

	var (
		company *Company
		user    *User
	)
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// live record, the token only proves who is asking
		user, err = h.repo.Users().FindByIDTx(ctx, tx, owner)
		if err != nil {
			return err
		}

		if !user.Role.CanOnboardCompany() {
			return withMetadata(ErrForbidden, map[string]any{"role": string(user.Role)})
		}

		if user.HasCompany() {
			return ErrCompanyExists
		}

		company, err = h.repo.Companies().CreateCompanyTx(ctx, tx, &Company{
			Name:            event.Name,
			Website:         event.Website,
			AdminUserID:     user.ID,
			CreatedByUserID: user.ID,
		})
		if err != nil {
			return err
		}

		user.CompanyID = &company.ID
		if user, err = h.repo.Users().SaveTx(ctx, tx, user); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return storageError(err, "company onboarding transaction failed")
	}

	h.sessions.record(ctx, ActivityEventCompanyOnboarded, user, map[string]any{
		"company_name": company.Name,
	})

	if event.OnResponse != nil {
		event.OnResponse(&OnboardCompanyResponse{Company: company, User: user})
	}

	return nil
}
