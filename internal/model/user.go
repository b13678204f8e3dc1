package model

// UserRef is the display snapshot of a user as captured from the client at
// join time. The coordinator never looks identities up itself; it relays
// what the already-authenticated caller supplied.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}
