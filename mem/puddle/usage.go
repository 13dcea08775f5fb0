package puddle

// Usage approximates how many allocation rounds currently want a puddle.
// It saturates at MaxUsage in both directions instead of wrapping, which caps
// how often bursts of traffic can flip the page between committed and loaned.
type Usage uint8

// MaxUsage is the saturation point of Usage.
const MaxUsage Usage = 7

// Inc bumps the counter and reports whether it just left zero.
func (u *Usage) Inc() (activated bool) {
	if *u < MaxUsage {
		*u++
		return *u == 1
	}
	return false
}

// Dec lowers the counter and reports whether it just reached zero.
func (u *Usage) Dec() (idle bool) {
	if *u > 0 {
		*u--
		return *u == 0
	}
	return false
}
