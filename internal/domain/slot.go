package domain

import "fmt"

// Slot is one of the three daily check-in occasions.
type Slot string

const (
	SlotMorning Slot = "morning"
	SlotMidday  Slot = "midday"
	SlotEvening Slot = "evening"
)

// Slots lists every slot in the order they occur during a day.
var Slots = []Slot{SlotMorning, SlotMidday, SlotEvening}

// ParseSlot accepts a slot name. "day" is kept as an alias of midday.
func ParseSlot(s string) (Slot, error) {
	switch s {
	case "morning":
		return SlotMorning, nil
	case "midday", "day":
		return SlotMidday, nil
	case "evening":
		return SlotEvening, nil
	}
	return "", fmt.Errorf("unknown slot %q", s)
}

func (s Slot) Valid() bool {
	switch s {
	case SlotMorning, SlotMidday, SlotEvening:
		return true
	}
	return false
}

func (s Slot) String() string { return string(s) }
