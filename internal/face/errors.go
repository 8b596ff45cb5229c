package face

import "errors"

var (
	// ErrNoEnrollments means the matcher had zero candidates to score.
	ErrNoEnrollments = errors.New("no faces enrolled")
	// ErrDimensionMismatch means probe and candidate vectors disagree on length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrExtractionFailed wraps the extractor's own failure message.
	ErrExtractionFailed = errors.New("embedding extraction failed")
	// ErrDuplicateFace means an enrollment probe already matches a different identity.
	ErrDuplicateFace = errors.New("face already enrolled for another student")
)
