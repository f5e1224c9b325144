package kommo

// SyncOrderInput is one completed lead order as the CRM sees it: a deal on the
// buyer's contact.
type SyncOrderInput struct {
	OrderID          string
	PaymentReference string
	CustomerName     string
	Email            string
	TotalCents       int64
	LeadCount        int
	LeadTypes        []string
}

type embeddedContacts struct {
	Embedded struct {
		Contacts []struct {
			ID int `json:"id"`
		} `json:"contacts"`
	} `json:"_embedded"`
}

type embeddedLeads struct {
	Embedded struct {
		Leads []struct {
			ID int `json:"id"`
		} `json:"leads"`
	} `json:"_embedded"`
}

type customFieldValue struct {
	FieldCode string       `json:"field_code"`
	Values    []fieldValue `json:"values"`
}

type fieldValue struct {
	Value    string `json:"value"`
	EnumCode string `json:"enum_code,omitempty"`
}

type contactRequest struct {
	Name         string             `json:"name"`
	CustomFields []customFieldValue `json:"custom_fields_values"`
}

type tag struct {
	Name string `json:"name"`
}

type contactRef struct {
	ID int `json:"id"`
}

type leadRequest struct {
	Name     string `json:"name"`
	StatusID int    `json:"status_id,omitempty"`
	Price    int64  `json:"price"`
	Embedded struct {
		Tags     []tag        `json:"tags"`
		Contacts []contactRef `json:"contacts"`
	} `json:"_embedded"`
}
