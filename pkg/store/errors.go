package store

import "fmt"

// TransientStoreError reports a data-access failure that survived the
// retry ceiling for a single equipment. Callers skip the equipment and
// continue the batch; only a majority of these aborts a run.
type TransientStoreError struct {
	EquipmentNo string
	Attempts    int
	Err         error
}

func (e *TransientStoreError) Error() string {
	if e.EquipmentNo == "" {
		return fmt.Sprintf("store query failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("store query for equipment %s failed after %d attempts: %v", e.EquipmentNo, e.Attempts, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }
