package economy

import (
	"fmt"

	"idleforge/internal/sim/catalogs"
	"idleforge/internal/sim/events"
	"idleforge/internal/sim/multiplier"
)

func eventResourceChanged(resourceID string, delta, amount float64, sourceTag string) events.Event {
	return events.Event{
		Kind:       events.KindResourceChanged,
		ResourceID: resourceID,
		Delta:      delta,
		Amount:     amount,
		SourceTag:  sourceTag,
	}
}

func eventBuildingPurchased(buildingID string, count int) events.Event {
	return events.Event{Kind: events.KindBuildingPurchased, BuildingID: buildingID, Count: count}
}

func eventBuildingMaxed(buildingID string) events.Event {
	return events.Event{Kind: events.KindBuildingMaxed, BuildingID: buildingID}
}

func eventBuildingUnlocked(buildingID string) events.Event {
	return events.Event{Kind: events.KindBuildingUnlocked, BuildingID: buildingID}
}

// multiplierEntry gives each upgrade effect a stable source id so a reset
// can remove exactly what the upgrade installed.
func multiplierEntry(upgradeID string, idx int, eff catalogs.Effect) multiplier.Entry {
	return multiplier.Entry{
		Source:    fmt.Sprintf("upgrade:%s:%d", upgradeID, idx),
		Value:     eff.Value,
		Mode:      multiplier.Mode(eff.Mode),
		Condition: eff.Condition,
	}
}
