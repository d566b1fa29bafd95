package booking

import (
	"errors"
	"fmt"
	"time"
)

// Minimum notice a cancellation must give before the scheduled time.
const (
	RegularCancelNotice   = 2 * time.Hour
	EmergencyCancelNotice = 30 * time.Minute
)

var ErrCancellationTooLate = errors.New("cancellation window has closed")

// CancellationAllowed decides whether an appointment scheduled at
// scheduledAt may still be cancelled at now. The caller injects now, so the
// decision is a pure function of its inputs. Appointments already in the
// past fall under the same rule: their lead time is negative.
func CancellationAllowed(scheduledAt time.Time, isEmergency bool, now time.Time) error {
	notice := RegularCancelNotice
	kind := "regular"
	if isEmergency {
		notice = EmergencyCancelNotice
		kind = "emergency"
	}

	if scheduledAt.Sub(now) < notice {
		return fmt.Errorf("%w: %s appointments need at least %s notice, please contact the hospital directly",
			ErrCancellationTooLate, kind, notice)
	}
	return nil
}
