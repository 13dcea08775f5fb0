package puddle

import "errors"

var (
	// ErrZeroSize indicates a slot type without storage.
	ErrZeroSize = errors.New("puddle: zero-sized slot type")

	// ErrSlotTooLarge indicates a slot type larger than one page.
	ErrSlotTooLarge = errors.New("puddle: slot type larger than a page")

	// ErrPointerType indicates a slot type holding Go pointers. Slots live in
	// OS-mapped memory the garbage collector never scans.
	ErrPointerType = errors.New("puddle: slot type contains Go pointers")

	// ErrDestructorType indicates WithDestructor was given a function for a
	// different slot type.
	ErrDestructorType = errors.New("puddle: destructor type does not match slot type")

	// ErrConstruct wraps an error returned by a slot constructor.
	ErrConstruct = errors.New("puddle: constructor failed")

	// ErrClosed indicates use of a puddle after Close.
	ErrClosed = errors.New("puddle: closed")

	// ErrInUse indicates an operation that needs every slot empty.
	ErrInUse = errors.New("puddle: slots in use")
)
