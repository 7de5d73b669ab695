package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tournevent/shipbroker/internal/events"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"go.uber.org/zap"
)

// Status update sources.
const (
	SourceWebhook    = "webhook"
	SourceReconciler = "reconciler"
	SourceAdmin      = "admin"
)

// StatusUpdate is an inbound status change from a webhook, the reconciler
// or an operator. Status must name an internal status.
type StatusUpdate struct {
	Status        string
	PartnerStatus string
	Location      string
	Remarks       string
	Source        string
	At            time.Time
}

// UpdateResult reports what UpdateStatus did.
type UpdateResult struct {
	Order    *Order
	Previous shipper.Status
	Applied  bool
}

// UpdateStatus applies a status change to the order referenced by id, order
// number or AWB. Terminal orders and repeats of the current status at the same
// location are left untouched and reported with Applied false.
func (o *Orchestrator) UpdateStatus(ctx context.Context, ref string, u StatusUpdate) (*UpdateResult, error) {
	status, err := shipper.ParseStatus(u.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStatus, err)
	}
	found, err := o.Find(ctx, ref)
	if err != nil {
		return nil, err
	}
	if u.Source == "" {
		u.Source = SourceWebhook
	}
	at := u.At
	if at.IsZero() {
		at = o.now()
	}
	at = at.UTC()

	var (
		previous shipper.Status
		current  *Order
	)
	updated, err := o.store.Update(ctx, found.ID, func(cur *Order) error {
		previous = cur.Status
		if cur.Status.Terminal() || (cur.Status == status && lastLocation(cur) == u.Location) {
			current = cur.Clone()
			return errUnchanged
		}
		cur.Status = status
		cur.Metadata.StatusHistory = append(cur.Metadata.StatusHistory, HistoryEntry{
			Status:        status,
			PartnerStatus: u.PartnerStatus,
			Location:      u.Location,
			Remarks:       u.Remarks,
			Source:        u.Source,
			At:            at,
		})
		cur.UpdatedAt = o.now().UTC()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		o.metrics.RecordStatusUpdate(u.Source, false)
		o.logger.Ctx(ctx).Debug("Status update ignored",
			zap.String("order_id", current.ID),
			zap.String("current", string(previous)),
			zap.String("incoming", string(status)),
			zap.String("source", u.Source),
		)
		return &UpdateResult{Order: current, Previous: previous}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("updating status of %s: %w", found.ID, err)
	}

	o.metrics.RecordStatusUpdate(u.Source, true)
	o.publish(ctx, events.OrderStatusChanged, updated)
	o.logger.Ctx(ctx).Info("Order status updated",
		zap.String("order_id", updated.ID),
		zap.String("tracking_id", updated.TrackingID),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
		zap.String("partner_status", u.PartnerStatus),
		zap.String("source", u.Source),
	)
	return &UpdateResult{Order: updated, Previous: previous, Applied: true}, nil
}

func lastLocation(o *Order) string {
	if n := len(o.Metadata.StatusHistory); n > 0 {
		return o.Metadata.StatusHistory[n-1].Location
	}
	return ""
}
