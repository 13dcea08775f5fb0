//go:build unix && !linux && !darwin && !freebsd

package vmem

// CanOffer reports whether Offer can succeed on this backend.
func CanOffer() bool { return false }

// Offer is unsupported here.
func Offer(mem []byte) error { return ErrOfferUnsupported }
