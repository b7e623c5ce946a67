package service

import (
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/types"
)

// mergeDryRunEvents overlays the hypothetical events of subscriptionID on its
// sorted real events and returns the simulated sequence. Real events after a
// hypothetical one are dropped. A hypothetical CHANGE landing exactly on the
// CREATE or TRANSFER date replaces it and becomes the CREATE. Neither input is
// modified.
func mergeDryRunEvents(subscriptionID string, events []*event.Event, dryRunEvents []*event.Event) []*event.Event {
	if len(dryRunEvents) == 0 {
		return events
	}

	merged := make([]*event.Event, len(events))
	copy(merged, events)

	for _, dryRun := range dryRunEvents {
		if dryRun.SubscriptionID != subscriptionID {
			continue
		}

		isChange := dryRun.IsAPIType(types.APIEventTypeChange)
		swapWithCreate := false

		kept := make([]*event.Event, 0, len(merged)+1)
		for _, e := range merged {
			switch {
			case e.EffectiveDate.After(dryRun.EffectiveDate):
				continue
			case e.EffectiveDate.Equal(dryRun.EffectiveDate) && isChange && e.IsGenesis():
				swapWithCreate = true
				continue
			}
			kept = append(kept, e)
		}

		simulated := dryRun.Copy()
		if swapWithCreate {
			simulated = simulated.WithAPIType(types.APIEventTypeCreate)
		}
		if len(kept) > 0 {
			simulated = simulated.WithTotalOrdering(event.LastTotalOrdering(kept) + 1)
		}
		simulated.FromDisk = false

		merged = append(kept, simulated)
	}

	return merged
}
