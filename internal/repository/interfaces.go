package repository

import (
	"context"

	"github.com/fairshare-app/fairshare/internal/domain"
	"github.com/fairshare-app/fairshare/internal/versioning"
)

// ProjectRepository defines the interface for project operations
type ProjectRepository interface {
	Create(ctx context.Context, project *domain.Project) error
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	Update(ctx context.Context, project *domain.Project) error
	Delete(ctx context.Context, project *domain.Project) error
}

// MemberRepository defines the interface for member operations
type MemberRepository interface {
	Create(ctx context.Context, member *domain.Member) error
	GetByID(ctx context.Context, id int64) (*domain.Member, error)
	ListByProject(ctx context.Context, projectID string) ([]*domain.Member, error)
	Update(ctx context.Context, member *domain.Member) error
	Delete(ctx context.Context, member *domain.Member) error
}

// BillRepository defines the interface for bill operations, including the
// bill_owers membership.
type BillRepository interface {
	Create(ctx context.Context, bill *domain.Bill) error
	GetByID(ctx context.Context, id int64) (*domain.Bill, error)
	ListByProject(ctx context.Context, projectID string) ([]*domain.Bill, error)
	Update(ctx context.Context, bill *domain.Bill) error
	SetOwers(ctx context.Context, bill *domain.Bill, owerIDs []int64) error
	Delete(ctx context.Context, bill *domain.Bill) error
}

// HistoryRecord pairs one version row with its owning ledger transaction.
type HistoryRecord struct {
	Version *versioning.Version
	Tx      versioning.TransactionRecord
}

// HistoryRepository reads and maintains the recorded history of a project:
// its own versions plus those of its members, bills and bill memberships.
type HistoryRepository interface {
	ProjectHistory(ctx context.Context, projectID string) ([]HistoryRecord, error)
	BillOwerChanges(ctx context.Context, billID, txID int64) (versioning.MembershipChange, error)
	Purge(ctx context.Context, projectID string) error
	StripRemoteAddrs(ctx context.Context, projectID string) error
}
