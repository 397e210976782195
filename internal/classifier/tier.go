package classifier

import (
	"fmt"
	"strings"
)

// Tier — уровень срочности. Порядок значим: больший уровень вытесняет меньший.
type Tier int

const (
	Ignored Tier = iota
	Ambient
	Important
	Critical
)

// Tiers — все озвучиваемые уровни по возрастанию.
var Tiers = []Tier{Ambient, Important, Critical}

func (t Tier) String() string {
	switch t {
	case Ignored:
		return "ignored"
	case Ambient:
		return "ambient"
	case Important:
		return "important"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseTier разбирает имя уровня без учёта регистра.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignored", "ignore", "off":
		return Ignored, nil
	case "ambient", "low":
		return Ambient, nil
	case "important", "high":
		return Important, nil
	case "critical", "urgent":
		return Critical, nil
	default:
		return Ignored, fmt.Errorf("classifier: unknown tier %q", s)
	}
}

// ParseOverrides разбирает строки вида "Event=tier" (TIER_OVERRIDES).
func ParseOverrides(items []string) (map[string]Tier, error) {
	out := make(map[string]Tier, len(items))
	for _, it := range items {
		name, tier, ok := strings.Cut(it, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("classifier: bad override %q, want Event=tier", it)
		}
		t, err := ParseTier(tier)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}
