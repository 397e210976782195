package gamestate

import (
	"EliteCompanion/internal/journal"
	"fmt"
	"strings"
	"sync"
)

// State — текущее состояние корабля и сессии, восстановленное из журнала.
type State struct {
	System        string  `json:"system,omitempty"`
	Body          string  `json:"body,omitempty"`
	Station       string  `json:"station,omitempty"`
	Docked        bool    `json:"docked"`
	Supercruise   bool    `json:"supercruise"`
	Commander     string  `json:"commander,omitempty"`
	ShipName      string  `json:"shipName,omitempty"`
	ShipType      string  `json:"shipType,omitempty"`
	FuelLevel     float64 `json:"fuelLevel"`
	FuelCapacity  float64 `json:"fuelCapacity"`
	ShieldsUp     bool    `json:"shieldsUp"`
	CargoCapacity int64   `json:"cargoCapacity"`
	CargoUsed     int64   `json:"cargoUsed"`
	Jumps         int     `json:"jumps"`
	Bounties      int     `json:"bounties"`
	Materials     int     `json:"materials"`
	LastDocked    string  `json:"lastDocked,omitempty"`
}

func initial() State {
	return State{FuelLevel: 32, FuelCapacity: 32, ShieldsUp: true}
}

// Tracker обновляет State по записям журнала. Безопасен для конкурентного использования.
type Tracker struct {
	mu sync.RWMutex
	st State
}

func New() *Tracker { return &Tracker{st: initial()} }

// Reset возвращает состояние к начальному (новая сессия, ротация журнала).
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.st = initial()
	t.mu.Unlock()
}

func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.st
}

// Update применяет запись журнала. Неизвестные события ничего не меняют.
func (t *Tracker) Update(rec journal.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.st
	switch rec.Event {
	case "LoadGame":
		s.System = text(rec, "StarSystem", s.System)
		s.Commander = text(rec, "Commander", s.Commander)
		s.ShipName = text(rec, "ShipName", s.ShipName)
		s.ShipType = text(rec, "Ship", s.ShipType)
		s.FuelLevel = num(rec, "FuelLevel", s.FuelLevel)
		s.FuelCapacity = num(rec, "FuelCapacity", s.FuelCapacity)
	case "Location":
		s.System = text(rec, "StarSystem", s.System)
		s.Body = text(rec, "Body", s.Body)
		if docked, ok := rec.Bool("Docked"); ok {
			s.Docked = docked
			s.Station = ""
			if docked {
				s.Station = text(rec, "StationName", "")
			}
		}
	case "FSDJump":
		s.System = text(rec, "StarSystem", "")
		s.Body = text(rec, "Body", "")
		s.FuelLevel = num(rec, "FuelLevel", s.FuelLevel)
		s.Supercruise = false
		s.Docked = false
		s.Station = ""
		s.Jumps++
	case "SupercruiseEntry":
		s.Supercruise = true
	case "SupercruiseExit":
		s.Supercruise = false
		s.Body = text(rec, "Body", s.Body)
	case "Docked":
		s.Station = text(rec, "StationName", "")
		s.Docked = true
		s.LastDocked = s.Station
		s.Supercruise = false
	case "Undocked":
		s.Docked = false
		s.Station = ""
	case "ShipRefuelled", "RefuelAll", "RefuelPartial":
		s.FuelLevel = min(s.FuelCapacity, s.FuelLevel+num(rec, "Amount", 0))
	case "FuelScoop":
		s.FuelLevel = num(rec, "Total", s.FuelLevel)
	case "FuelFull":
		s.FuelLevel = s.FuelCapacity
	case "ShieldState":
		if up, ok := rec.Bool("ShieldsUp"); ok {
			s.ShieldsUp = up
		}
	case "Bounty":
		s.Bounties++
	case "MaterialCollected":
		s.Materials++
	case "Cargo":
		if n, ok := rec.Int("Count"); ok {
			s.CargoUsed = n
		}
		if n, ok := rec.Int("Capacity"); ok {
			s.CargoCapacity = n
		}
	case "Loadout":
		s.ShipName = text(rec, "ShipName", s.ShipName)
		s.ShipType = text(rec, "Ship", s.ShipType)
		if n, ok := rec.Int("CargoCapacity"); ok {
			s.CargoCapacity = n
		}
	}
}

// FuelPercent — заполненность бака в процентах.
func (s State) FuelPercent() float64 {
	if s.FuelCapacity <= 0 {
		return 0
	}
	return s.FuelLevel / s.FuelCapacity * 100
}

// Describe — описание состояния для промпта модели.
func (t *Tracker) Describe() string {
	return t.Snapshot().Describe()
}

func (s State) Describe() string {
	var parts []string
	if s.System != "" {
		loc := "Currently in " + s.System
		switch {
		case s.Docked && s.Station != "":
			loc += ", docked at " + s.Station
		case s.Supercruise:
			loc += " (in supercruise)"
		}
		parts = append(parts, loc)
	}
	if s.ShipName != "" && s.ShipType != "" {
		parts = append(parts, fmt.Sprintf("Piloting a %s called '%s'", s.ShipType, s.ShipName))
	}

	fuel := s.FuelPercent()
	switch {
	case fuel < 25:
		parts = append(parts, fmt.Sprintf("Fuel is LOW: %.0f%%", fuel))
	case fuel < 50:
		parts = append(parts, fmt.Sprintf("Fuel is %.0f%%", fuel))
	default:
		parts = append(parts, fmt.Sprintf("Fuel is good: %.0f%%", fuel))
	}
	if !s.ShieldsUp {
		parts = append(parts, "WARNING: Shields are DOWN!")
	}
	if s.Jumps > 0 {
		parts = append(parts, fmt.Sprintf("Session stats: %d jumps", s.Jumps))
	}
	if s.Bounties > 0 {
		parts = append(parts, fmt.Sprintf("%d bounties claimed", s.Bounties))
	}
	return strings.Join(parts, ". ") + "."
}

func text(rec journal.Record, key, def string) string {
	if v, ok := rec.Text(key); ok && v != "" {
		return v
	}
	return def
}

func num(rec journal.Record, key string, def float64) float64 {
	if v, ok := rec.Float(key); ok {
		return v
	}
	return def
}
