package audit

import "time"

// TimelineFilters narrows the audit trail of one organization.
type TimelineFilters struct {
	OrganizationID int64
	From           time.Time
	To             time.Time
	ActorID        int64
	Entity         string
	EntityID       string
	Action         string
	Page           int
	PageSize       int
}

// TimelineRow is one recorded ledger event.
type TimelineRow struct {
	ID       int64          `json:"id"`
	At       time.Time      `json:"at"`
	ActorID  int64          `json:"actor_id,omitempty"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// PagingInfo holds simple forward/backward paging metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}
