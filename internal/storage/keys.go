package storage

// DatasetKey is the object key a job's uploaded dataset is staged under.
func DatasetKey(trackingID string) string {
	return trackingID + ".csv"
}
