package modeldto

import "github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"

type (
	NewQueue struct {
		Name           string `json:"name"`
		OperatorEmail  string `json:"cashierEmail"`
		TimeoutSeconds int    `json:"noShowTimeoutSeconds,omitempty"`
	}
	NoShow struct {
		TokenID string `json:"tokenId,omitempty"`
		Reason  string `json:"reason,omitempty"`
	}
	Role struct {
		Role string `json:"role"`
	}
	Created struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	Admitted struct {
		Success  bool   `json:"success"`
		TokenID  string `json:"tokenId"`
		Priority int    `json:"priority"`
	}
	Success struct {
		Success bool `json:"success"`
	}
	Blocked struct {
		Blocked bool `json:"blocked"`
	}
	BlockRequest struct {
		Email string `json:"email"`
	}
	ErrorBody struct {
		Error ErrorDetail `json:"error"`
	}
	ErrorDetail struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	// CallNextResult is one of: a newly promoted slot, an untouched busy slot, or nothing waiting.
	CallNextResult struct {
		Success     bool                    `json:"success"`
		Served      *modelqueue.ServingSlot `json:"served,omitempty"`
		Busy        *modelqueue.ServingSlot `json:"busy,omitempty"`
		NoneWaiting bool                    `json:"noneWaiting"`
	}
	NoShowResult struct {
		Success bool                      `json:"success"`
		Retired *modelqueue.RetiredRecord `json:"retired"`
		Next    *CallNextResult           `json:"next,omitempty"`
	}
	SweepResult struct {
		Success   bool                      `json:"success"`
		Processed bool                      `json:"processed"`
		Retired   *modelqueue.RetiredRecord `json:"retired,omitempty"`
		Next      *CallNextResult           `json:"next,omitempty"`
	}
	SweepOutcome struct {
		QueueID string       `json:"queueId"`
		Result  *SweepResult `json:"result,omitempty"`
		Err     error        `json:"-"`
		Error   string       `json:"error,omitempty"`
	}
	QueueStatus struct {
		Queue   modelqueue.Queue           `json:"queue"`
		Current *modelqueue.ServingSlot    `json:"current"`
		Waiting []modelqueue.WaitingEntry  `json:"waiting"`
		Retired []modelqueue.RetiredRecord `json:"noShows"`
	}
)

// Promoted returns the slot that was newly promoted, if any.
func (r *CallNextResult) Promoted() *modelqueue.ServingSlot {
	if r == nil {
		return nil
	}
	return r.Served
}
