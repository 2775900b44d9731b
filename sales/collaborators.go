package sales

//go:generate mockgen -source=collaborators.go -destination=collaborators_mock.go -package=sales

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Who did what when, append-only
// =============================================================================

type AuditAction string

const (
	AuditSaleCreated           AuditAction = "sale_created"
	AuditSaleApproved          AuditAction = "sale_approved"
	AuditSaleRejected          AuditAction = "sale_rejected"
	AuditCancellationRequested AuditAction = "cancellation_requested"
	AuditSaleDeleted           AuditAction = "sale_emergency_deleted"
	AuditScheduleMaterialized  AuditAction = "schedule_materialized"
	AuditSaleReprogrammed      AuditAction = "sale_reprogrammed"
	AuditCommissionRecorded    AuditAction = "commission_recorded"
)

type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   ActorID
	Action    AuditAction
	SaleID    SaleID
	Payload   map[string]any
}

// AuditLog persists audit entries. Failures are logged by the caller and
// never undo the audited operation.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// =============================================================================
// DOCUMENT STORE - Receipt files
// =============================================================================

type DocumentMeta struct {
	SaleID      SaleID
	PaymentID   CommissionPaymentID
	Filename    string
	ContentType string
}

type DocumentStore interface {
	Store(ctx context.Context, data []byte, meta DocumentMeta) (ReceiptRef, error)
}

// =============================================================================
// NOTIFIER - Fan-out of lifecycle events
// =============================================================================

type EventType string

const (
	EventSaleApproved          EventType = "sale.approved"
	EventSaleRejected          EventType = "sale.rejected"
	EventCancellationRequested EventType = "sale.cancellation_requested"
	EventCommissionCompleted   EventType = "commission.completed"
)

type Event struct {
	Type      EventType      `json:"type"`
	SaleID    SaleID         `json:"sale_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Notifier delivers events. Implementations must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// =============================================================================
// CANCELLATION PIPELINE - Extension point past REQUESTED
// =============================================================================

// CancellationPipeline is handed every new cancellation request after it
// commits. Review, refund and completion are its concern.
type CancellationPipeline interface {
	CancellationRequested(ctx context.Context, req CancellationRequest) error
}
