package domain

import "time"

type RecordStatus string

const (
	StatusPending               RecordStatus = "pending"
	StatusCategorized           RecordStatus = "categorized"
	StatusMissingCustomerNumber RecordStatus = "missing_customer_number"
	StatusUncategorized         RecordStatus = "uncategorized"
)

// Reconciled is the canonical analysis merged from the text and attachment results.
type Reconciled struct {
	CustomerNumber       *string          `json:"customer_number"`
	AllCustomerNumbers   []string         `json:"all_customer_numbers"`
	Category             string           `json:"category"`
	AllCategories        []string         `json:"all_categories"`
	ExtractedInformation []ExtractedGroup `json:"extracted_information"`
}

func (r Reconciled) PrimaryCustomerNumber() string {
	if r.CustomerNumber == nil {
		return ""
	}
	return *r.CustomerNumber
}

type AnalysisRecord struct {
	ID                  string                 `json:"id"`
	Mailbox             string                 `json:"mailbox"`
	MessageRef          string                 `json:"message_ref"`
	Subject             string                 `json:"subject"`
	From                string                 `json:"from"`
	ReceivedAt          time.Time              `json:"received_at"`
	RawText             string                 `json:"raw_text,omitempty"`
	AttachmentRefs      []string               `json:"attachment_refs"`
	TextResult          *ClassificationResult  `json:"text_result,omitempty"`
	TextError           string                 `json:"text_error,omitempty"`
	ImageResults        []ClassificationResult `json:"image_results"`
	Reconciled          Reconciled             `json:"reconciled"`
	Status              RecordStatus           `json:"status"`
	AnalysisCompleted   bool                   `json:"analysis_completed"`
	Forwarded           bool                   `json:"forwarded"`
	ForwardingCompleted bool                   `json:"forwarding_completed"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// AnalysisUpdate is the set of fields written by one analysis pass. It never carries
// forwarding state.
type AnalysisUpdate struct {
	RawText           string
	AttachmentRefs    []string
	TextResult        *ClassificationResult
	TextError         string
	ImageResults      []ClassificationResult
	Reconciled        Reconciled
	Status            RecordStatus
	AnalysisCompleted bool
}

func (r *AnalysisRecord) ApplyAnalysis(update AnalysisUpdate) {
	r.RawText = update.RawText
	r.AttachmentRefs = update.AttachmentRefs
	r.TextResult = update.TextResult
	r.TextError = update.TextError
	r.ImageResults = update.ImageResults
	r.Reconciled = update.Reconciled
	r.Status = update.Status
	r.AnalysisCompleted = update.AnalysisCompleted
}

// AnalysisSnapshot returns the record's current analysis fields as an update.
func (r *AnalysisRecord) AnalysisSnapshot() AnalysisUpdate {
	return AnalysisUpdate{
		RawText:           r.RawText,
		AttachmentRefs:    r.AttachmentRefs,
		TextResult:        r.TextResult,
		TextError:         r.TextError,
		ImageResults:      r.ImageResults,
		Reconciled:        r.Reconciled,
		Status:            r.Status,
		AnalysisCompleted: r.AnalysisCompleted,
	}
}

// MarkForwarded moves the record into a terminal forwarding state. ForwardingCompleted
// only ever goes from false to true.
func (r *AnalysisRecord) MarkForwarded(forwarded bool) {
	r.Forwarded = forwarded
	r.ForwardingCompleted = true
}

type ListFilter struct {
	Status RecordStatus
	Limit  int
}
