package db

var (
	RunAggregationOnce   = runAggregationOnce
	RollupRecent         = rollupRecent
	RunRetentionOnce     = runRetentionOnce
	PurgeExpiredSessions = purgeExpiredSessions
)
