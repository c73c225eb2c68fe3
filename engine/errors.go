package engine

import "errors"

// ErrDigestsDisabled is returned by GenerateDigest when no digest aggregator
// was attached to the engine.
var ErrDigestsDisabled = errors.New("digest aggregation is not enabled")
