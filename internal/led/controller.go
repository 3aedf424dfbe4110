package led

// Patterns understood by every Controller.
const (
	PatternSolid = "solid"
	PatternBlink = "blink"
)

// Controller drives the status LEDs of a single-board computer.
type Controller interface {
	// Set switches ledType on or off. An empty pattern leaves the trigger
	// unchanged.
	Set(ledType string, enabled bool, pattern string) error

	// Available lists the LED types of the board.
	Available() []string

	// Patterns lists the accepted patterns.
	Patterns() []string

	// Indicator is the LED type reflecting the recording state, or "" when
	// the board has none.
	Indicator() string
}
