package confparse

import "strings"

// Write renders a File back to text. For a File obtained from Parse,
// this reproduces the original byte sequence exactly (round-trip law).
// For a File constructed by the generator, it produces syntactically
// valid, canonically formatted output (idempotence law). Both paths
// share the same rendering code: every Item renders itself the same
// way regardless of origin.
func Write(f *File) string {
	var b strings.Builder

	writeItems(&b, f.LeadingItems)

	for _, s := range f.Sections() {
		writeSection(&b, s)
	}

	writeItems(&b, f.TrailingItems)

	out := b.String()
	if !f.endsWithNewline {
		out = strings.TrimSuffix(out, "\n")
	}
	return out
}

func writeSection(b *strings.Builder, s *Section) {
	for _, c := range s.LeadingComments {
		writeComment(b, &c)
	}
	if s.HeaderIndent != "" {
		b.WriteString(s.HeaderIndent)
	}
	b.WriteString(s.HeaderText)
	b.WriteString("\n")
	writeItems(b, s.Items)
}

func writeItems(b *strings.Builder, items []Item) {
	for _, it := range items {
		switch it.Kind {
		case ItemBlank:
			b.WriteString("\n")
		case ItemComment:
			writeComment(b, it.Comment)
		case ItemField:
			writeField(b, it.Field)
		}
	}
}

func writeComment(b *strings.Builder, c *Comment) {
	if c.Indent != "" {
		b.WriteString(c.Indent)
	}
	marker := c.Marker
	if marker == 0 {
		marker = '#'
	}
	b.WriteByte(marker)
	if c.Text != "" {
		b.WriteString(" ")
		b.WriteString(c.Text)
	}
	b.WriteString("\n")
}

func writeField(b *strings.Builder, f *Field) {
	if f.Indent != "" {
		b.WriteString(f.Indent)
	}
	b.WriteString(f.Key)
	eq := f.EqSpacing
	if eq == "" {
		eq = " = "
	}
	b.WriteString(eq)
	b.WriteString(renderValues(f.Values, f.Delimiter))
	if f.Inline != nil {
		b.WriteString(" ")
		marker := f.Inline.Marker
		if marker == 0 {
			marker = '#'
		}
		b.WriteByte(marker)
		if f.Inline.Text != "" {
			b.WriteString(" ")
			b.WriteString(f.Inline.Text)
		}
	}
	b.WriteString("\n")
}

func renderValues(values []string, delim string) string {
	if len(values) <= 1 {
		if len(values) == 0 {
			return ""
		}
		return values[0]
	}
	d := delim
	if d == "" {
		d = ", "
	}
	return strings.Join(values, d)
}
