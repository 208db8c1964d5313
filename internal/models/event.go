package models

// EventType discriminates the payload carried by an Event.
type EventType string

const (
	EventProgress    EventType = "progress"
	EventItemSuccess EventType = "item_success"
	EventItemFailed  EventType = "item_failed"
	EventComplete    EventType = "complete"
)

// Event is one entry of a batch progress stream. Only the fields relevant to
// Type are populated.
type Event struct {
	Type   EventType `json:"type"`
	Index  int       `json:"index,omitempty"`
	Total  int       `json:"total,omitempty"`
	URL    string    `json:"url,omitempty"`
	Data   *Record   `json:"data,omitempty"`
	Error  string    `json:"error,omitempty"`
	Report *Report   `json:"report,omitempty"`
}

// ProgressEvent announces that the target at the 1-based index is starting.
func ProgressEvent(index, total int, target string) Event {
	return Event{Type: EventProgress, Index: index, Total: total, URL: target}
}

// OutcomeEvent converts a finished outcome into an item_success or
// item_failed event.
func OutcomeEvent(o Outcome) Event {
	if o.Succeeded() {
		return Event{Type: EventItemSuccess, URL: o.Target, Data: o.Record}
	}
	return Event{Type: EventItemFailed, URL: o.Target, Error: o.Message()}
}

func CompleteEvent(report *Report) Event {
	return Event{Type: EventComplete, Report: report}
}
