package domain

// Entry is a single rendered line of a chat transcript.
type Entry struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Images    int               `json:"images,omitempty"`
	Streaming bool              `json:"streaming,omitempty"`
	Searching bool              `json:"searching,omitempty"`
	Grounding []GroundingSource `json:"grounding,omitempty"`
}
