package depositcode

import (
	"context"
	"encoding/json"
	"time"

	codemodel "github.com/mistic96/payment-broker/internal/core/datamodel/depositcode"
)

// RepositoryAPI is the deposit code storage contract. Lookups are
// case-insensitive; uniqueness is enforced by the store's unique index on
// the lower-cased code, not by an in-process lock, so concurrent generators
// in separate processes cannot both win the same code.
type RepositoryAPI interface {
	// Create inserts a new code and returns ErrDepositCodeCollision when
	// the unique index rejects it.
	Create(ctx context.Context, c *codemodel.Code) error
	GetByCode(ctx context.Context, code string) (*codemodel.Code, error)
	GetByID(ctx context.Context, id int64) (*codemodel.Code, error)
	List(ctx context.Context, filter ListFilter) ([]*codemodel.Code, error)

	// ConsumeActive flips an Active code to Used with the payment id set,
	// in one conditional update. Returns false when the code was not
	// Active anymore.
	ConsumeActive(ctx context.Context, code, paymentID string) (bool, error)
	UpdateStatus(ctx context.Context, id int64, status codemodel.Status, metadata json.RawMessage) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// ListFilter narrows List queries for the admin surface.
type ListFilter struct {
	UserID string
	Status codemodel.Status
	Limit  int
	Offset int
}

// ServiceAPI is the deposit code engine contract. Validate and Consume are
// the two operations the payment lifecycle depends on; the rest serve the
// admin surface and the expiry sweep.
type ServiceAPI interface {
	GenerateCode(ctx context.Context, req *GenerateCodeRequest) (*codemodel.Code, error)
	Validate(ctx context.Context, ownerID, code string, amountCents int64, currency string) error
	Consume(ctx context.Context, code, paymentID string) error
	RejectCode(ctx context.Context, id int64, reason string) error
	GetCode(ctx context.Context, code string) (*codemodel.Code, error)
	ListCodes(ctx context.Context, filter ListFilter) ([]*codemodel.Code, error)
	ExpireStale(ctx context.Context) (int64, error)
}
