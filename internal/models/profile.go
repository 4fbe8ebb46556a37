package models

// MemberProfile is the display profile the trip store exposes for a member.
type MemberProfile struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}
