package timeline

// Note is the slice of a note the fanout and visibility logic needs.
// Reply and Renote are the resolved parent notes when present.
type Note struct {
	ID             string   `json:"id"`
	UserID         string   `json:"userId"`
	Dimension      int      `json:"dimension"`
	FileIDs        []string `json:"fileIds,omitempty"`
	Mentions       []string `json:"mentions,omitempty"`
	VisibleUserIDs []string `json:"visibleUserIds,omitempty"`
	Reply          *Note    `json:"reply,omitempty"`
	Renote         *Note    `json:"renote,omitempty"`
}

// HasFiles reports whether the note carries attachments.
func (n *Note) HasFiles() bool {
	return n != nil && len(n.FileIDs) > 0
}
