package domain

// Message is the send request handed to a channel adapter for one dispatch job.
type Message struct {
	JobID      string         `json:"job_id"`
	CustomerID string         `json:"customer_id"`
	JourneyID  string         `json:"journey_id"`
	NodeID     string         `json:"node_id"`
	Channel    string         `json:"channel"`
	TemplateID string         `json:"template_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NewMessage creates a Message from a job and the customer's attribute snapshot.
func NewMessage(job *DispatchJob, attributes map[string]any) Message {
	return Message{
		JobID:      job.JobID,
		CustomerID: job.CustomerID,
		JourneyID:  job.JourneyID,
		NodeID:     job.NodeID,
		Channel:    job.Channel,
		TemplateID: job.TemplateID,
		Attributes: attributes,
	}
}
