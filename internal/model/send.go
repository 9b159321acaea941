package model

// Attachment is inline attachment content. Encoding "base64" means Content
// is base64 text, anything else is taken as UTF-8.
type Attachment struct {
	Filename    string `json:"filename,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"contentType,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
}

// SendRequest is a direct send.
type SendRequest struct {
	From        string
	To          *AddressList
	Cc          *AddressList
	Bcc         *AddressList
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// TemplateSendRequest sends a stored template. Recipient fields override
// the template's defaults.
type TemplateSendRequest struct {
	TemplateID  string
	Params      map[string]interface{}
	From        string
	To          *AddressList
	Cc          *AddressList
	Bcc         *AddressList
	ReplyTo     string
	Attachments []Attachment
}

// SendResult is what the SMTP relay reported for one message.
type SendResult struct {
	MessageID string   `json:"messageId"`
	Accepted  []string `json:"accepted"`
	Rejected  []string `json:"rejected"`
	Response  string   `json:"response"`
}

// AddressFromValue converts a loosely typed value (from template defaults)
// into an AddressList. Unsupported or empty values give nil.
func AddressFromValue(v interface{}) *AddressList {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return NewAddress(t)
	case []string:
		if len(t) == 0 {
			return nil
		}
		return NewAddressList(t...)
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return NewAddressList(out...)
	case *AddressList:
		if t.IsEmpty() {
			return nil
		}
		return t
	}
	return nil
}
