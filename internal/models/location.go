package models

type Location struct {
	LocationID      string `json:"id"`
	Name            string `json:"name"`
	Category        string `json:"category"`
	ImageRef        string `json:"image"`
	CurrentToken    int64  `json:"current_token"`
	LastIssuedToken int64  `json:"last_issued_token"`
}

const (
	CategoryHospital = "hospital"
	CategoryHotel    = "hotel"
)

// Issue modes decide what a visitor's "get a token" action does.
const (
	IssueModeDirect   = "direct"
	IssueModeApproval = "approval"
)

// Waiting is the number of issued tokens not yet served.
func (l Location) Waiting() int64 {
	return l.LastIssuedToken - l.CurrentToken
}
