// Package mdm reduces extracted clinical facts to an evaluation-and-management
// complexity level and an office-visit CPT code.
package mdm

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Level is an ordinal complexity tier. The zero value is not a valid level.
type Level int

const (
	Straightforward Level = iota + 1
	Low
	Moderate
	High
)

// Levels lists every valid level in ascending order.
var Levels = []Level{Straightforward, Low, Moderate, High}

func (l Level) String() string {
	switch l {
	case Straightforward:
		return "straightforward"
	case Low:
		return "low"
	case Moderate:
		return "moderate"
	case High:
		return "high"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

func (l Level) Valid() bool {
	return l >= Straightforward && l <= High
}

// OrDefault maps an invalid level to Straightforward.
func (l Level) OrDefault() Level {
	if !l.Valid() {
		return Straightforward
	}
	return l
}

// ParseLevel accepts the lower-case names plus the aliases seen in model output.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "straightforward", "straight forward", "minimal", "sf", "1":
		return Straightforward, nil
	case "low", "limited", "2":
		return Low, nil
	case "moderate", "3":
		return Moderate, nil
	case "high", "extensive", "4":
		return High, nil
	}
	return 0, fmt.Errorf("unknown complexity level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid complexity level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func (l *Level) UnmarshalYAML(node *yaml.Node) error {
	return l.UnmarshalText([]byte(node.Value))
}

func maxLevel(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}
