package jobstore

import (
	"fmt"
	"strings"
)

const jobKeyPrefix = "job:"

// JobKeyPattern matches every job record key.
const JobKeyPattern = jobKeyPrefix + "*"

func JobKey(trackingID string) string {
	return fmt.Sprintf("%s%s", jobKeyPrefix, trackingID)
}

// TrackingIDFromKey strips the key prefix added by JobKey.
func TrackingIDFromKey(key string) string {
	return strings.TrimPrefix(key, jobKeyPrefix)
}
