package classifier

import "EliteCompanion/internal/journal"

func has(key string) func(journal.Record) bool {
	return func(r journal.Record) bool { return r.Has(key) }
}

func shieldsDown(r journal.Record) bool {
	up, ok := r.Bool("ShieldsUp")
	return ok && !up
}

// Health в журнале — доля от 0 до 1.
func hullBelow(limit float64) func(journal.Record) bool {
	return func(r journal.Record) bool {
		h, ok := r.Float("Health")
		return ok && h < limit
	}
}

// Порядок вариантов значим: берётся первый подходящий.
var table = map[string][]variant{
	// Навигация
	"FSDJump": {
		{when: has("Body"), tier: Ambient, template: "Arrived in {StarSystem}. Near {Body}."},
		{tier: Ambient, template: "Arrived in {StarSystem}."},
	},
	"StartJump": {
		{when: has("StarSystem"), tier: Ambient, template: "Initiating {JumpType} jump to {StarSystem}."},
		{tier: Ambient, template: "Initiating {JumpType} jump."},
	},
	"SupercruiseEntry": {{tier: Ambient, template: "Entering supercruise in {StarSystem}."}},
	"SupercruiseExit":  {{tier: Ambient, template: "Dropping from supercruise near {BodyType}."}},
	"FuelFull":         {{tier: Ambient, template: "Fuel tanks are now full."}},
	"JumpReq":          {{tier: Ambient}},

	// Стыковка
	"DockingGranted":   {{tier: Important, template: "Docking granted at {StationName}."}},
	"DockingDenied":    {{tier: Important, template: "Docking denied at {StationName}. Reason: {Reason}."}},
	"DockingRequested": {{tier: Ambient, template: "Requesting docking at {StationName}."}},
	"DockingCancelled": {{tier: Ambient, template: "Docking request at {StationName} cancelled."}},
	"Undocked":         {{tier: Ambient, template: "Undocked from {StationName}."}},

	// Состояние корабля
	"ShieldState": {
		{when: shieldsDown, tier: Critical, template: "WARNING: Shields have gone down!"},
		{tier: Ambient, template: "Shields are back online."},
	},
	"ShipLowFuel":     {{tier: Critical, template: "CRITICAL: Ship fuel is critically low!"}},
	"Died":            {{tier: Critical, template: "ALERT: Ship has been destroyed. Commander, you have died."}},
	"CockpitBreached": {{tier: Critical, template: "ALERT: Cockpit breached! Oxygen on reserve!"}},
	"HeatDamage":      {{tier: Critical, template: "WARNING: Heat damage! Ship is overheating!"}},
	"SelfDestruct":    {{tier: Critical, template: "Self destruct sequence engaged."}},
	"HullDamage": {
		{when: hullBelow(0.5), tier: Critical, template: "WARNING: Hull integrity critical!"},
		{tier: Important, template: "Hull damage sustained."},
	},
	"HeatWarning": {{tier: Important, template: "Heat levels rising."}},
	"Resurrect":   {{tier: Important, template: "Systems restored. Rebuy option {Option} complete."}},

	// Бой
	"UnderAttack":        {{tier: Important, template: "Warning: under attack!"}},
	"Interdicted":        {{tier: Important, template: "Interdiction detected by {Interdictor}."}},
	"Interdiction":       {{tier: Important, template: "Interdicting {Interdicted}."}},
	"EscapeInterdiction": {{tier: Important, template: "Escaped interdiction by {Interdictor}."}},
	"Bounty":             {{tier: Important, template: "Bounty claimed: {TotalReward} credits for {Target}."}},
	"PVPKill":            {{tier: Important, template: "Commander {Victim} destroyed."}},
	"FighterDestroyed":   {{tier: Important, template: "Fighter destroyed."}},
	"SRVDestroyed":       {{tier: Important, template: "SRV destroyed."}},
	"CommitCrime":        {{tier: Important, template: "Crime committed: {CrimeType}."}},
	"FactionKillBond":    {{tier: Ambient, template: "Combat bond awarded: {Reward} credits."}},

	// Исследование
	"Scan": {
		{when: has("StarType"), tier: Ambient, template: "Scan complete: {BodyName} (class {StarType} star)."},
		{when: has("PlanetClass"), tier: Ambient, template: "Scan complete: {BodyName} ({PlanetClass})."},
		{tier: Ambient, template: "Scan complete: {BodyName} ({BodyType})."},
	},
	"SAASignalsFound":   {{tier: Ambient, template: "Surface scan of {BodyName} found signals."}},
	"MaterialCollected": {{tier: Ambient, template: "Material collected: {Name}."}},
	"MaterialDiscarded": {{tier: Ambient, template: "Material discarded: {Name}."}},

	// Миссии
	"MissionAccepted":   {{tier: Ambient, template: "Mission accepted: {LocalisedName}."}},
	"MissionCompleted":  {{tier: Important, template: "Mission completed: {LocalisedName}."}},
	"MissionFailed":     {{tier: Important, template: "Mission failed: {LocalisedName}."}},
	"MissionRedirected": {{tier: Ambient, template: "Mission redirected to {NewDestinationSystem}."}},
	"CommunityGoal":     {{tier: Ambient}},

	// Экипаж
	"CrewAssign":           {{tier: Ambient}},
	"CrewMemberJoins":      {{tier: Ambient, template: "Commander {Crew} joined the crew."}},
	"CrewMemberQuits":      {{tier: Ambient, template: "Commander {Crew} left the crew."}},
	"CrewLaunchFighter":    {{tier: Ambient}},
	"CrewMemberRoleChange": {{tier: Ambient}},

	// Инженеры
	"Synthesis":     {{tier: Ambient, template: "Synthesis complete: {Name}."}},
	"EngineerCraft": {{tier: Ambient, template: "Engineering complete: {Blueprint} grade {Level}."}},

	// Система
	"LoadGame": {{tier: Ambient, template: "Welcome back, Commander {Commander}. Systems online. Aboard the {Ship}."}},
}
