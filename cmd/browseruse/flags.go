package main

import (
	"fmt"
	"strings"
	"time"
)

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// holdValue is either a duration or "forever", which holds until a signal
// arrives.
type holdValue struct {
	duration time.Duration
	forever  bool
}

func (h *holdValue) String() string {
	if h.forever {
		return "forever"
	}
	return h.duration.String()
}

func (h *holdValue) Set(value string) error {
	if value == "forever" {
		h.forever, h.duration = true, 0
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("expected a duration or \"forever\": %w", err)
	}
	if d < 0 {
		return fmt.Errorf("hold must not be negative")
	}
	h.forever, h.duration = false, d
	return nil
}
