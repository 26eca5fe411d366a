package contextengine

import "errors"

var (
	errSegmentIDRequired  = errors.New("contextengine: segment id is required")
	errDuplicateSegmentID = errors.New("contextengine: duplicate segment id")
	errPointerUnresolved  = errors.New("contextengine: pointer segment has no restorable reference")
	errReferenceNotFound  = errors.New("contextengine: external_memory_index has no entry for reference")
)
