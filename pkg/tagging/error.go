package tagging

import "errors"

// ErrInvalidArgument is returned for malformed input: an empty category, a
// zero secret, or a tag string that does not parse. Tag generation has no
// other failure modes.
var ErrInvalidArgument = errors.New("invalid argument")
