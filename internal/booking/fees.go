package booking

import "crewlink/internal/models"

// StandardFeePolicy charges a flat amount when a customer backs out of a
// booking the worker has already committed to. Worker, admin and system
// cancellations are free on this side; any compensation there is settled
// by the platform, not the realtime layer.
type StandardFeePolicy struct {
	LateCancelFee float64
}

func (p StandardFeePolicy) CancellationFee(b *models.Booking, actor string) float64 {
	if actor != models.ActorCustomer {
		return 0
	}
	switch b.Status {
	case models.StatusConfirmed, models.StatusInProgress:
		return p.LateCancelFee
	default:
		return 0
	}
}
