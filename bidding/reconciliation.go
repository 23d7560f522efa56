package bidding

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type ReconciliationKind string

const (
	// ReconcileRelease means the funds are still held and must be given
	// back to the user.
	ReconcileRelease ReconciliationKind = "release"
	// ReconcileLedger means the funds were already given back and only the
	// ledger entries are missing.
	ReconcileLedger ReconciliationKind = "ledger"
)

// Reconciliation is a wallet repair the coordinator could not finish
// itself. ID makes applying it idempotent.
type Reconciliation struct {
	ID     uuid.UUID          `msgpack:"id"`
	Kind   ReconciliationKind `msgpack:"kind"`
	UserID uuid.UUID          `msgpack:"user_id"`
	ItemID uuid.UUID          `msgpack:"item_id"`
	Amount Cents              `msgpack:"amount"`
	// HoldTransactionID is nil when the hold was never recorded.
	HoldTransactionID *uuid.UUID `msgpack:"hold_transaction_id"`
	Reason            string     `msgpack:"reason"`
	At                time.Time  `msgpack:"at"`
}

// ReconciliationReporter queues reconciliations for an out-of-band worker.
type ReconciliationReporter interface {
	Publish(r Reconciliation) error
}

// WithReconciliationReporter hands every unfinished wallet repair to the
// reporter in addition to logging it.
func WithReconciliationReporter(reporter ReconciliationReporter) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.reporter = reporter
	}
}

func (c *Coordinator) report(kind ReconciliationKind, userID, itemID uuid.UUID, amount Cents, holdID *uuid.UUID, cause error) {
	c.options.metrics.unreconciled()
	if c.options.reporter == nil {
		return
	}
	r := Reconciliation{
		ID:                uuid.New(),
		Kind:              kind,
		UserID:            userID,
		ItemID:            itemID,
		Amount:            amount,
		HoldTransactionID: holdID,
		Reason:            cause.Error(),
		At:                c.options.now(),
	}
	if err := c.options.reporter.Publish(r); err != nil {
		c.logger.Error("Fail to queue reconciliation",
			slog.String("reconciliationID", r.ID.String()),
			slog.String("kind", string(kind)),
			slog.String("userID", userID.String()),
			slog.String("amount", amount.String()),
			slog.Any("error", err))
	}
}
