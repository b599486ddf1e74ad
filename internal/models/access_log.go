package models

import "time"

// AccessLogEntry is an immutable audit record of one authentication
// decision. Entries are append-only; retention is capped by the sink.
type AccessLogEntry struct {
	AgentID   string    `json:"agent_id"`
	Endpoint  string    `json:"endpoint"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	ClientIP  string    `json:"client_ip"`
}

// DefaultAccessLogCap is the number of access log entries retained before
// the oldest are evicted.
const DefaultAccessLogCap = 1000
