package confparse

// Builder helpers used by the generator to construct a File from
// scratch, with the canonical field order and formatting the writer
// law requires.

// NewInterfaceSection creates an [Interface] section with fields
// appended in the canonical order as they are set.
func NewInterfaceSection() *Section {
	return &Section{Kind: SectionInterface, HeaderText: "[Interface]"}
}

// NewPeerSection creates a [Peer] section, optionally preceded by a
// comment (used for SNR/exit/remote peer identification comments).
func NewPeerSection(comment string) *Section {
	s := &Section{Kind: SectionPeer, HeaderText: "[Peer]"}
	if comment != "" {
		s.LeadingComments = append(s.LeadingComments, Comment{
			Position: CommentBeforeSection,
			Marker:   '#',
			Text:     comment,
		})
	}
	return s
}

// AppendField appends a single-valued field using canonical " = " spacing.
func (s *Section) AppendField(key, value string) {
	if value == "" {
		return
	}
	s.Items = append(s.Items, Item{Kind: ItemField, Field: &Field{
		Key: key, Values: []string{value}, EqSpacing: " = ",
	}})
}

// AppendMultiField appends a multi-valued field (Address/DNS/AllowedIPs)
// joined with ", " per the canonical writer rule.
func (s *Section) AppendMultiField(key string, values []string) {
	if len(values) == 0 {
		return
	}
	s.Items = append(s.Items, Item{Kind: ItemField, Field: &Field{
		Key: key, Values: values, EqSpacing: " = ", Delimiter: ", ",
	}})
}

// AppendBlank appends a blank line (used to separate peer blocks in
// generator output, matching wg-quick's own convention).
func (s *Section) AppendBlank() {
	s.Items = append(s.Items, Item{Kind: ItemBlank})
}
