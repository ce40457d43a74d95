// Package audit reads the audit trail written by shared.AuditLogger.
package audit

import "time"

// TimelineFilters selects audit entries of one entity.
type TimelineFilters struct {
	Entity   string
	EntityID string
	Actor    string
	Action   string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// Entry is one audit_logs row.
type Entry struct {
	At         time.Time      `json:"at"`
	ActorID    *int64         `json:"actorId,omitempty"`
	ActorEmail string         `json:"actorEmail"`
	Action     string         `json:"action"`
	FromStatus string         `json:"fromStatus,omitempty"`
	ToStatus   string         `json:"toStatus,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// PagingInfo is window paging without a total count.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}
