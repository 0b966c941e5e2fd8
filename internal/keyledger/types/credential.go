package types

// IssueRequest is the body of POST /v1/credentials. Times are RFC 3339 or
// "2006-01-02 15:04:05.000" in UTC.
type IssueRequest struct {
	CredentialID string   `json:"credential_id"`
	Kind         string   `json:"kind"`
	Rooms        []string `json:"rooms"`
	Areas        []string `json:"areas,omitempty"`
	ValidFrom    string   `json:"valid_from"`
	ValidUntil   string   `json:"valid_until"`
	Issuer       string   `json:"issuer"`
	Holder       string   `json:"holder,omitempty"`
	IssuedAt     string   `json:"issued_at,omitempty"` // defaults to server time

	DeadboltOverride bool `json:"deadbolt_override,omitempty"`
	PassageMode      bool `json:"passage_mode,omitempty"`
	AllowConflict    bool `json:"allow_conflict,omitempty"`
}

type CancelRequest struct {
	Operator string `json:"operator"`
	At       string `json:"at,omitempty"`
}

// Event is the wire form of a stored credential event.
type Event struct {
	Seq              int64    `json:"seq"`
	CredentialID     string   `json:"credential_id"`
	Kind             string   `json:"kind"`
	Rooms            []string `json:"rooms"`
	Areas            []string `json:"areas"`
	IssuedAt         string   `json:"issued_at"`
	ValidFrom        string   `json:"valid_from"`
	ValidUntil       string   `json:"valid_until"`
	Issuer           string   `json:"issuer"`
	Holder           string   `json:"holder,omitempty"`
	DeadboltOverride bool     `json:"deadbolt_override"`
	PassageMode      bool     `json:"passage_mode"`
	State            string   `json:"state"`
	StateChangedAt   string   `json:"state_changed_at,omitempty"`
	InsertedAt       string   `json:"inserted_at"`
}

type StateResponse struct {
	CredentialID string `json:"credential_id"`
	State        string `json:"state"`
	Latest       *Event `json:"latest,omitempty"`
	ServerTime   string `json:"server_time"`
}

type HolderResponse struct {
	CredentialID string `json:"credential_id"`
	Holder       string `json:"holder"`
	ServerTime   string `json:"server_time"`
}
