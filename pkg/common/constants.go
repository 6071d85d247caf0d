package common

import "time"

const (
	RedisKeyLastPrice   = "last_price:%s"
	RedisKeyExitAlert   = "operator_alert:exit:%d"
	RedisKeyOrphanAlert = "operator_alert:orphan:%s"

	RedisLastPriceTTL     = 10 * time.Minute
	RedisOperatorAlertTTL = 6 * time.Hour
)
