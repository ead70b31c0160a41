package contracts

// ItemState is the display state of one pipeline item.
type ItemState string

const (
	ItemPending  ItemState = "pending"
	ItemRunning  ItemState = "running"
	ItemComplete ItemState = "complete"
)

// ItemStatus describes the progress of one data product (prices,
// group returns, or RS scores) for an entity class.
type ItemStatus struct {
	Status    ItemState `json:"status"`
	Days      int       `json:"days"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	TaskTotal int       `json:"task_total"`
}

// EntityStatus groups the item statuses for one entity class.
type EntityStatus struct {
	Total   int         `json:"total"`
	Prices  *ItemStatus `json:"prices,omitempty"`
	Returns *ItemStatus `json:"returns,omitempty"`
	RSScore *ItemStatus `json:"rs_score"`
}

// PipelineStatus is the full snapshot returned by the status endpoint.
type PipelineStatus struct {
	Stocks     EntityStatus `json:"stocks"`
	Sectors    EntityStatus `json:"sectors"`
	Industries EntityStatus `json:"industries"`
	Batch      *Batch       `json:"batch,omitempty"`
}
