package common

import (
	"github.com/google/uuid"
)

// NewCycleID generates an ID that ties together the log lines of one discovery or drain cycle
// Format: <prefix>_<first 8 chars of uuid>
func NewCycleID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}
