// Package ring implements a bounded circular buffer of length prefixed messages shared by
// many producers and consumers.
//
// Every message is stored as an 8 byte little endian length followed by the payload. Both
// parts may wrap around the end of the storage independently. Insert and Remove block for
// at most the configured timeout and report ErrFull and ErrEmpty respectively, which callers
// are expected to handle by retrying.
package ring
