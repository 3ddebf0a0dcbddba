package models

import (
	"math"
	"strconv"
	"strings"
)

// FormatValue renders v rounded to one decimal followed by its unit. Size units are separated
// by a space ("12.5 GB"); everything else is appended directly ("97.0%", "35.2ms").
func FormatValue(v float64, unit string) string {
	s := strconv.FormatFloat(math.Round(v*10)/10, 'f', 1, 64)
	switch strings.ToLower(unit) {
	case "gb", "mb", "tb":
		return s + " " + unit
	default:
		return s + unit
	}
}
