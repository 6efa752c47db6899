package domain

// ForwardingAction is one planned outbound forward for a single customer number.
type ForwardingAction struct {
	CustomerNumber string   `json:"customer_number"`
	Categories     []string `json:"categories"`
	SequenceIndex  int      `json:"sequence_index"`
	Total          int      `json:"total"`
}

// Tagged reports whether the subject carries a "[i/total]" marker.
func (a ForwardingAction) Tagged() bool {
	return a.Total > 1
}

type DeliveryFailure struct {
	Action ForwardingAction `json:"action"`
	Error  string           `json:"error"`
}

type DeliveryReport struct {
	Attempted int               `json:"attempted"`
	Sent      int               `json:"sent"`
	Failures  []DeliveryFailure `json:"failures,omitempty"`
}
