package events

// Condition is the logical condition the main loop acts on. It is derived from
// the whole pending bitmask, not from individual bits.
type Condition uint8

const (
	// None means nothing is pending.
	None Condition = iota
	// Color means the color button was pressed.
	Color
	// Intensity means the intensity button was pressed.
	Intensity
	// AmbientDark means the ambient signal rose.
	AmbientDark
	// AmbientLight means the ambient signal fell.
	AmbientLight
	// Unknown is any other combination of flags.
	Unknown
)

func (c Condition) String() string {
	switch c {
	case None:
		return "none"
	case Color:
		return "color"
	case Intensity:
		return "intensity"
	case AmbientDark:
		return "ambient-dark"
	case AmbientLight:
		return "ambient-light"
	default:
		return "unknown"
	}
}

// Classify maps a pending bitmask to the condition to handle. Only a single
// outstanding flag is a recognized condition; any combination is Unknown and
// handled as a protocol fault.
func Classify(f Flags) Condition {
	switch f {
	case 0:
		return None
	case ColorRequest:
		return Color
	case IntensityRequest:
		return Intensity
	case AmbientRising:
		return AmbientDark
	case AmbientFalling:
		return AmbientLight
	default:
		return Unknown
	}
}

// Flags returns the flags that are cleared once c has been handled. Unknown
// clears everything.
func (c Condition) Flags() Flags {
	switch c {
	case Color:
		return ColorRequest
	case Intensity:
		return IntensityRequest
	case AmbientDark:
		return AmbientRising
	case AmbientLight:
		return AmbientFalling
	case Unknown:
		return ^Flags(0)
	default:
		return 0
	}
}
