package dispatcher

import "EliteCompanion/internal/classifier"

var cannedResponses = map[string][]string{
	"ShipLowFuel": {
		"Fuel critical! Find a refuel immediately!",
		"Warning! Fuel reserves depleted!",
	},
	"Died": {
		"Ship destroyed. Reinitiating systems...",
		"Critical failure. Ship destroyed.",
	},
	"ShieldState": {
		"Shields down! Evasive action recommended!",
		"Shield failure detected!",
	},
}

// cannedFor выбирает заготовку по порядковому номеру: одинаковый n — одинаковая фраза.
func cannedFor(ev classifier.Event, n int64) (string, bool) {
	list := cannedResponses[ev.Type]
	if len(list) == 0 {
		return "", false
	}
	return list[int((n-1)%int64(len(list)))], true
}
