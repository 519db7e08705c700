package handler

import (
	"time"

	"fundpool/internal/funding/models"
)

// ContributeRequest carries the native amount as a decimal string so no
// precision is lost in JSON number handling.
type ContributeRequest struct {
	Amount string `json:"amount"`
}

type ContributionResponse struct {
	ID          string    `json:"id"`
	Contributor string    `json:"contributor"`
	Amount      string    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

type ContributionsResponse struct {
	Principal     string                 `json:"principal,omitempty"`
	Order         string                 `json:"order,omitempty"`
	Contributions []ContributionResponse `json:"contributions"`
}

type WithdrawalResponse struct {
	Controller   string    `json:"controller"`
	Amount       string    `json:"amount"`
	Contributors int       `json:"contributors"`
	WithdrawnAt  time.Time `json:"withdrawn_at"`
}

type RateResponse struct {
	Answer    int64     `json:"answer"`
	Decimals  uint8     `json:"decimals"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`
}

type MinimumResponse struct {
	Minimum string `json:"minimum"`
}

type SummaryResponse struct {
	Controller      string       `json:"controller"`
	Balance         string       `json:"balance"`
	BalanceExternal string       `json:"balance_external"`
	Contributors    int          `json:"contributors"`
	Minimum         string       `json:"minimum"`
	Rate            RateResponse `json:"rate"`
}

type ContributorResponse struct {
	Index     int    `json:"index"`
	Principal string `json:"principal"`
	Total     string `json:"total"`
}

type ContributorsResponse struct {
	Count        int                   `json:"count"`
	Contributors []ContributorResponse `json:"contributors"`
}

type TotalResponse struct {
	Principal string `json:"principal"`
	Total     string `json:"total"`
}

// InsufficientContributionResponse extends the error envelope with the live
// floor so clients can retry with a valid amount.
type InsufficientContributionResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Proposed         string `json:"proposed"`
	Minimum          string `json:"minimum"`
	Rate             string `json:"rate"`
}

func toContributionResponse(c models.Contribution) ContributionResponse {
	return ContributionResponse{
		ID:          c.ID.String(),
		Contributor: c.Contributor.String(),
		Amount:      c.Amount.String(),
		Timestamp:   c.Timestamp,
	}
}

func toContributionResponses(records []models.Contribution) []ContributionResponse {
	out := make([]ContributionResponse, 0, len(records))
	for _, c := range records {
		out = append(out, toContributionResponse(c))
	}
	return out
}

func toRateResponse(r models.Rate) RateResponse {
	return RateResponse{
		Answer:    r.Answer,
		Decimals:  r.Decimals,
		Value:     r.Value().String(),
		UpdatedAt: r.UpdatedAt,
		Source:    r.Source,
	}
}
