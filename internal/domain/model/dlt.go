package model

import "time"

// DltRecord is a quarantined log record that exceeded the consumer retry
// budget. It lives until an operator redrives or purges it.
type DltRecord struct {
	ID            int64     `json:"id"`
	OriginalTopic string    `json:"originalTopic"`
	Partition     int32     `json:"partition"`
	Offset        int64     `json:"offset"`
	Key           string    `json:"key"`
	Title         string    `json:"title"`
	StackTrace    string    `json:"stackTrace"`
	Payload       []byte    `json:"payload"`
	FailedAt      time.Time `json:"failedAt"`
}
