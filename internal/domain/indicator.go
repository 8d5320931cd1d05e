package domain

import "fmt"

// Indicator is the tri-state summary of every monitored target.
type Indicator int

const (
	AllUp Indicator = iota
	Partial
	AllDown
)

func (i Indicator) String() string {
	switch i {
	case AllUp:
		return "all_up"
	case Partial:
		return "partial"
	case AllDown:
		return "all_down"
	}
	return "unknown"
}

// Color is the presentation color a shell should paint the indicator with.
func (i Indicator) Color() string {
	switch i {
	case AllUp:
		return "green"
	case Partial:
		return "orange"
	case AllDown:
		return "red"
	}
	return "grey"
}

func (i Indicator) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Indicator) UnmarshalText(b []byte) error {
	switch string(b) {
	case "all_up":
		*i = AllUp
	case "partial":
		*i = Partial
	case "all_down":
		*i = AllDown
	default:
		return fmt.Errorf("unknown indicator %q", b)
	}
	return nil
}

// Aggregate folds independent up/down flags into an Indicator.
// An empty set is AllUp, never AllDown.
func Aggregate(flags []bool) Indicator {
	up, down := 0, 0
	for _, f := range flags {
		if f {
			up++
		} else {
			down++
		}
	}
	switch {
	case down == 0:
		return AllUp
	case up == 0:
		return AllDown
	default:
		return Partial
	}
}
