package models

import "fmt"

type Level string

const (
	LevelStable    Level = "Stable"
	LevelAttention Level = "Attention"
	LevelCritical  Level = "Critical"
)

var severity = map[Level]int{
	LevelStable:    0,
	LevelAttention: 1,
	LevelCritical:  2,
}

func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if _, ok := severity[l]; !ok {
		return "", fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}

// ParseBandLevel parses the level of a failure band. Stable is a machine status only and never a
// band level.
func ParseBandLevel(s string) (Level, error) {
	l, err := ParseLevel(s)
	if err != nil {
		return "", err
	}
	if l == LevelStable {
		return "", fmt.Errorf("level %q is not a band level", s)
	}
	return l, nil
}

func (l Level) Severity() int {
	return severity[l]
}

func (l Level) Valid() bool {
	_, ok := severity[l]
	return ok
}

// HighestLevel returns the most severe level among alerts, or LevelStable if there are none.
func HighestLevel(alerts []PendingAlert) Level {
	out := LevelStable
	for _, a := range alerts {
		if a.Level.Severity() > out.Severity() {
			out = a.Level
		}
	}
	return out
}
