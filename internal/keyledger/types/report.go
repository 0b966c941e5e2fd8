package types

type CreationRow struct {
	Kind         string `json:"kind"`
	CredentialID string `json:"credential_id"`
	Issuer       string `json:"issuer"`
	Building     string `json:"building"`
	Floor        string `json:"floor"`
	Room         string `json:"room"`
	IssuedAt     string `json:"issued_at"`
	ReturnedAt   string `json:"returned_at,omitempty"`
	CheckedOutAt string `json:"checked_out_at,omitempty"`
	Holder       string `json:"holder"`
	Status       string `json:"status"`
}

type StaffKeyRow struct {
	CredentialID     string `json:"credential_id"`
	Issuer           string `json:"issuer"`
	Rooms            string `json:"rooms"`
	Areas            string `json:"areas"`
	IssuedAt         string `json:"issued_at"`
	ValidUntil       string `json:"valid_until"`
	Holder           string `json:"holder"`
	DeadboltOverride bool   `json:"deadbolt_override"`
	PassageMode      bool   `json:"passage_mode"`
}

type KeyHolderRow struct {
	Kind         string `json:"kind"`
	CredentialID string `json:"credential_id"`
	Holder       string `json:"holder"`
	Building     string `json:"building"`
	Floor        string `json:"floor"`
	Room         string `json:"room"`
	IssuedAt     string `json:"issued_at"`
	ValidUntil   string `json:"valid_until"`
}

type OperatorRow struct {
	Issuer       string `json:"issuer"`
	Kind         string `json:"kind"`
	CredentialID string `json:"credential_id"`
	IssuedAt     string `json:"issued_at"`
	Status       string `json:"status"`
}

// ReportResponse carries exactly one populated row slice, named by Report.
type ReportResponse struct {
	Report     string         `json:"report"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Creation   []CreationRow  `json:"creation,omitempty"`
	StaffKeys  []StaffKeyRow  `json:"staff_keys,omitempty"`
	KeyHolders []KeyHolderRow `json:"key_holders,omitempty"`
	Operators  []OperatorRow  `json:"operators,omitempty"`
	Count      int            `json:"count"`
}
