package classifier

var displayNames = map[string]string{
	// Навигация
	"FSDJump":          "FSD Jump Complete",
	"StartJump":        "Starting FSD Jump",
	"SupercruiseEntry": "Entering Supercruise",
	"SupercruiseExit":  "Exiting Supercruise",
	"JumpReq":          "Jump Required",

	// Стыковка
	"DockingGranted":   "Docking Granted",
	"DockingDenied":    "Docking Denied",
	"DockingCancelled": "Docking Cancelled",
	"DockingRequested": "Requesting Docking",
	"Undocked":         "Undocked from Station",

	// Бой и состояние корабля
	"ShieldState":        "Shield Status Changed",
	"ShipLowFuel":        "Low Fuel Warning",
	"Died":               "Ship Destroyed",
	"Bounty":             "Bounty Claimed",
	"Resurrect":          "Resurrected",
	"UnderAttack":        "Under Attack",
	"PVPKill":            "PVP Kill",
	"Interdicted":        "Being Interdicted",
	"Interdiction":       "Interdiction Attempt",
	"EscapeInterdiction": "Escaped Interdiction",
	"HullDamage":         "Hull Damage",
	"FighterDestroyed":   "Fighter Destroyed",
	"SRVDestroyed":       "SRV Destroyed",
	"HeatWarning":        "Heat Warning",
	"HeatDamage":         "Heat Damage",
	"CockpitBreached":    "Cockpit Breached",
	"SelfDestruct":       "Self Destruct",
	"CommitCrime":        "Crime Committed",
	"FactionKillBond":    "Faction Kill Bond",

	// Исследование
	"Scan":              "Body Scanned",
	"SAASignalsFound":   "SAA Signals Discovered",
	"MaterialCollected": "Material Collected",
	"MaterialDiscarded": "Material Discarded",

	// Миссии
	"MissionAccepted":   "Mission Accepted",
	"MissionCompleted":  "Mission Completed",
	"MissionFailed":     "Mission Failed",
	"MissionRedirected": "Mission Redirected",
	"CommunityGoal":     "Community Goal Update",

	// Экипаж
	"CrewAssign":           "Crew Role Assigned",
	"CrewMemberJoins":      "Crew Member Joined",
	"CrewMemberQuits":      "Crew Member Quit",
	"CrewLaunchFighter":    "Fighter Launched",
	"CrewMemberRoleChange": "Crew Role Changed",

	// Инженеры
	"Synthesis":     "Synthesis Complete",
	"EngineerCraft": "Engineer Crafting Complete",

	// Система
	"LoadGame": "Game Loaded/Commander Login",
	"FuelFull": "Fuel Tank Full",
}

// DisplayName возвращает человекочитаемое имя события; для неизвестных — само имя.
func DisplayName(event string) string {
	if n, ok := displayNames[event]; ok {
		return n
	}
	return event
}
