package model

// OutboundEmail is what the engine hands to the outbound transport.
type OutboundEmail struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
	// Attachments are included as-is; the report generator uses this for
	// the per-recipient CSV.
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
