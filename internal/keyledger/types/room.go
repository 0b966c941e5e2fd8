package types

type CheckoutRequest struct {
	At string `json:"at,omitempty"`
}

type CheckoutResponse struct {
	RoomID     string  `json:"room_id"`
	CheckedOut []Event `json:"checked_out"`
	ServerTime string  `json:"server_time"`
}

// RoomLookupResponse answers the active and upcoming lookups. Found is
// false and Credential nil when nothing matches.
type RoomLookupResponse struct {
	RoomID     string `json:"room_id"`
	AsOf       string `json:"as_of"`
	Found      bool   `json:"found"`
	Credential *Event `json:"credential,omitempty"`
}

type KeyCountResponse struct {
	RoomID     string `json:"room_id"`
	ValidFrom  string `json:"valid_from"`
	ValidUntil string `json:"valid_until"`
	Count      int    `json:"count"`
}

type WatermarkResponse struct {
	Item         string `json:"item"`
	LastModified string `json:"last_modified,omitempty"`
}
