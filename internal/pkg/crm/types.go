package crm

const (
	TranscriptionFieldName        = "Transcription"
	TranscriptionFieldPlaceholder = "Transcription of audio messages"
)

// Scopes requested during authorization.
var Scopes = []string{
	"conversations.write",
	"conversations/message.readonly",
	"conversations/message.write",
	"conversations.readonly",
	"conversations/livechat.write",
	"locations.readonly",
	"locations/customValues.write",
	"locations/tags.write",
	"locations/tags.readonly",
	"locations/customValues.readonly",
	"locations/customFields.readonly",
	"locations/customFields.write",
	"contacts.write",
	"contacts.readonly",
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	UserType     string `json:"userType"`
	LocationID   string `json:"locationId"`
	CompanyID    string `json:"companyId"`
}

type Location struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"companyId"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Timezone  string `json:"timezone"`
}

type CustomField struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	FieldKey    string `json:"fieldKey,omitempty"`
	DataType    string `json:"dataType"`
	Model       string `json:"model,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// TranscriptionField is the custom field the pipeline writes transcripts into.
func TranscriptionField() CustomField {
	return CustomField{
		Name:        TranscriptionFieldName,
		DataType:    "TEXT",
		Model:       "contact",
		Placeholder: TranscriptionFieldPlaceholder,
	}
}

type InboundMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

type InboundMessageResult struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type contactFieldValue struct {
	ID         string `json:"id"`
	FieldValue string `json:"field_value"`
}

type updateContactRequest struct {
	CustomFields []contactFieldValue `json:"customFields"`
}
