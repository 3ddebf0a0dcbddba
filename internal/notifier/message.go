package notifier

import (
	"fmt"
	"strconv"
	"strings"

	"labwatch/internal/models"
)

// FormatMessage renders a claimed alert as a multi-line chat message.
func FormatMessage(a *models.OutboxAlert) string {
	unit := a.Formatting
	capacity := "n/a"
	if a.Capacity != nil {
		capacity = models.FormatValue(*a.Capacity, unit)
	}
	value := models.FormatValue(a.Value, unit)

	var b strings.Builder
	b.WriteString(":warning: *Alert detected!*\n")
	fmt.Fprintf(&b, "│ Room: %s\n", a.Room)
	fmt.Fprintf(&b, "│ Machine: %d - IP: %s (%s)\n", a.MachineID, a.MachineIP, a.MachineBrand)
	fmt.Fprintf(&b, "│ Component: %s\n", a.Component)
	fmt.Fprintf(&b, "│ Current value: %s\n", value)
	fmt.Fprintf(&b, "│ Capacity: %s\n", capacity)
	fmt.Fprintf(&b, "│ Alert level: %s\n", a.Level)
	fmt.Fprintf(&b, "│ Attention band: %s\n", formatBand(a.Attention, unit))
	fmt.Fprintf(&b, "│ Critical band: %s\n", formatBand(a.Critical, unit))
	fmt.Fprintf(&b, "│ Operating system: %s\n", a.MachineOS)
	fmt.Fprintf(&b, "│ Reason: %s *%s* - %s is at %s", levelSymbol(a.Level), a.Level, a.Component, value)
	return b.String()
}

func formatBand(band models.Band, unit string) string {
	if band.Min == nil || band.Max == nil {
		return "not configured"
	}
	return fmt.Sprintf("%s - %s %s", trimFloat(*band.Min), trimFloat(*band.Max), unit)
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func levelSymbol(l models.Level) string {
	switch l {
	case models.LevelCritical:
		return ":red_circle:"
	case models.LevelAttention:
		return ":large_yellow_circle:"
	default:
		return ":information_source:"
	}
}
