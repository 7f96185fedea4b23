package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidDuration is returned when duration input cannot be parsed.
var ErrInvalidDuration = errors.New("invalid duration")

var durationUnits = map[string]int{
	"s": 1,
	"m": 60,
	"h": 3600,
}

// ParseDuration converts user input such as "5s", "1m", "4h" or "30" into seconds.
// A bare number is read as seconds and "0" always means disabled.
func ParseDuration(text string) (int, error) {
	input := strings.ToLower(strings.TrimSpace(text))
	if input == "0" {
		return 0, nil
	}

	number, multiplier := input, 1
	if n := len(input); n > 0 {
		if m, ok := durationUnits[input[n-1:]]; ok {
			number, multiplier = input[:n-1], m
		}
	}

	value, err := strconv.Atoi(number)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, text)
	}
	if value < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidDuration, text)
	}
	if value > math.MaxInt/multiplier {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidDuration, text)
	}
	return value * multiplier, nil
}

// formatDuration renders seconds in the largest whole unit, e.g. 90 -> "1m".
func formatDuration(seconds int) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%dh", seconds/3600)
	}
}

// formatDelay is formatDuration with the manual sentinel spelled out.
func formatDelay(seconds int) string {
	if seconds == ManualDelay {
		return "Manual"
	}
	return formatDuration(seconds)
}
