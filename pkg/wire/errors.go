package wire

import "errors"

// ErrMalformed is returned when the envelope or a header fails a structural
// check: wrong prefix, a length field exceeding the remaining buffer, or a
// header byte that cannot be read. The whole ensemble is dropped when this
// is returned (spec §7).
var ErrMalformed = errors.New("wire: malformed frame")

// ErrUnknownAddress is returned for a single payload record whose address
// abbreviation cannot be resolved within this ensemble's address table.
// Decoding of subsequent records continues; the caller should neither
// process nor forward the record this error was reported for (spec §7).
var ErrUnknownAddress = errors.New("wire: unknown address")
