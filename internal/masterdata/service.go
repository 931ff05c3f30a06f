package masterdata

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service resolves master data lookups for the posting core.
type Service struct {
	repo Repository
}

// NewService builds the master data service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetParty returns one party scoped to the company.
func (s *Service) GetParty(ctx context.Context, companyID, partyID int64) (Party, error) {
	return s.repo.GetParty(ctx, companyID, partyID)
}

// RequireActiveParty returns the party or fails when it is missing, inactive,
// or owned by another company.
func (s *Service) RequireActiveParty(ctx context.Context, companyID, partyID int64, kind PartyKind) (Party, error) {
	party, err := s.repo.GetParty(ctx, companyID, partyID)
	if err != nil {
		return Party{}, err
	}
	if party.CompanyID != companyID {
		return Party{}, shared.ErrCrossCompanyRef
	}
	if party.Kind != kind {
		return Party{}, shared.Validationf("party", "party %d is not a %s", partyID, kind)
	}
	if !party.IsActive {
		return Party{}, shared.Violation(ErrPartyInactive, "party", partyID)
	}
	return party, nil
}

// ListParties lists parties, optionally filtered by kind.
func (s *Service) ListParties(ctx context.Context, companyID int64, kind PartyKind) ([]Party, error) {
	return s.repo.ListParties(ctx, companyID, kind)
}

// AddPartyBalance adjusts the party's aggregate subledger exposure.
func (s *Service) AddPartyBalance(ctx context.Context, companyID, partyID int64, delta decimal.Decimal) error {
	return s.repo.AddPartyBalance(ctx, companyID, partyID, delta)
}
