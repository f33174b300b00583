package confparse

import (
	"strings"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
)

// ParseError describes structural breakage: unterminated section,
// duplicate [Interface], or a key present in the wrong section. Parse
// reports such breakage as an errors.WithCode value whose message
// carries the line and kind; the *ParseError itself is not returned.
type ParseError struct {
	Line int
	Col  int
	Kind string
}

func (e *ParseError) Error() string {
	return e.Kind
}

func parseErr(line int, kind string, errCode int) error {
	pe := &ParseError{Line: line, Col: 1, Kind: kind}
	return errors.WithCode(errCode, "line %d: %s", pe.Line, pe.Kind)
}

// Mode selects how unknown fields are treated.
type Mode int

const (
	// ModePreserve (default) stores unknown fields verbatim.
	ModePreserve Mode = iota
	// ModeStrict rejects unknown fields with UnknownFieldError.
	ModeStrict
)

var interfaceKeys = map[string]bool{
	"privatekey": true, "address": true, "listenport": true, "dns": true,
	"mtu": true, "table": true, "postup": true, "postdown": true,
	"preup": true, "predown": true, "saveconfig": true,
}

var peerKeys = map[string]bool{
	"publickey": true, "presharedkey": true, "allowedips": true,
	"endpoint": true, "persistentkeepalive": true,
}

// Parse tokenizes and parses `.conf` text into a File AST.
func Parse(text string, mode Mode) (*File, error) {
	endsWithNewline := strings.HasSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	if endsWithNewline {
		lines = lines[:len(lines)-1]
	}

	f := &File{endsWithNewline: endsWithNewline}

	var cur *Section
	var pendingComments []Comment
	sawInterface := false

	flushPendingAsLeading := func() {
		for _, c := range pendingComments {
			f.LeadingItems = append(f.LeadingItems, Item{Kind: ItemComment, Comment: &c})
		}
		pendingComments = nil
	}
	flushPendingIntoSection := func(s *Section) {
		for i := range pendingComments {
			c := pendingComments[i]
			c.Position = CommentBeforeField
			s.Items = append(s.Items, Item{Kind: ItemComment, Comment: &c})
		}
		pendingComments = nil
	}

	for i, raw := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(raw)
		indent := raw[:len(raw)-len(strings.TrimLeft(raw, " \t"))]

		switch {
		case trimmed == "":
			if cur == nil {
				flushPendingAsLeading()
				f.LeadingItems = append(f.LeadingItems, Item{Kind: ItemBlank})
			} else {
				flushPendingIntoSection(cur)
				cur.Items = append(cur.Items, Item{Kind: ItemBlank})
			}
			continue

		case strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";"):
			c := Comment{Marker: trimmed[0], Text: strings.TrimSpace(trimmed[1:]), Indent: indent}
			pendingComments = append(pendingComments, c)
			continue

		case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
			name := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			kind, ok := sectionKind(name)
			if !ok {
				return nil, parseErr(lineNo, "unrecognized section ["+name+"]", code.ErrParseKeyWrongSection)
			}
			if kind == SectionInterface {
				if sawInterface {
					return nil, parseErr(lineNo, "duplicate [Interface] section", code.ErrParseDuplicateInterface)
				}
				sawInterface = true
			}

			s := &Section{Kind: kind, HeaderText: trimmed, HeaderIndent: indent}
			for i := range pendingComments {
				c := pendingComments[i]
				c.Position = CommentBeforeSection
				s.LeadingComments = append(s.LeadingComments, c)
			}
			pendingComments = nil

			if kind == SectionInterface {
				f.Interface = s
			} else {
				f.Peers = append(f.Peers, s)
			}
			cur = s
			continue

		case strings.HasPrefix(trimmed, "["):
			return nil, parseErr(lineNo, "unterminated section header", code.ErrParseUnterminatedSection)

		default:
			key, eqSpacing, value, ok := splitKV(trimmed)
			if !ok {
				// Not a recognizable line; treat defensively as a
				// comment-free unknown line attached like a comment
				// so round-trip is preserved even for garbage input.
				c := Comment{Marker: '#', Text: trimmed, Indent: indent}
				pendingComments = append(pendingComments, c)
				continue
			}

			value, inline := splitInlineComment(value)

			if cur == nil {
				return nil, parseErr(lineNo, "key '"+key+"' outside any section", code.ErrParseKeyWrongSection)
			}

			lower := strings.ToLower(key)
			if cur.Kind == SectionInterface && peerKeys[lower] && !interfaceKeys[lower] {
				return nil, parseErr(lineNo, "key '"+key+"' not valid in [Interface]", code.ErrParseKeyWrongSection)
			}
			if cur.Kind == SectionPeer && interfaceKeys[lower] && !peerKeys[lower] {
				return nil, parseErr(lineNo, "key '"+key+"' not valid in [Peer]", code.ErrParseKeyWrongSection)
			}
			if mode == ModeStrict && !interfaceKeys[lower] && !peerKeys[lower] {
				return nil, parseErr(lineNo, "unknown field '"+key+"'", code.ErrParseUnknownField)
			}

			values, delim := splitMultiValue(lower, value)
			field := &Field{
				Indent:    indent,
				Key:       key,
				Values:    values,
				Delimiter: delim,
				EqSpacing: eqSpacing,
				Inline:    inline,
			}
			flushPendingIntoSection(cur)
			cur.Items = append(cur.Items, Item{Kind: ItemField, Field: field})
		}
	}

	// Anything still pending (trailing comments with no following
	// section) becomes end-of-file comments.
	for i := range pendingComments {
		c := pendingComments[i]
		c.Position = CommentEndOfFile
		f.TrailingItems = append(f.TrailingItems, Item{Kind: ItemComment, Comment: &c})
	}

	return f, nil
}

func sectionKind(name string) (SectionKind, bool) {
	switch {
	case equalFold(name, "Interface"):
		return SectionInterface, true
	case equalFold(name, "Peer"):
		return SectionPeer, true
	default:
		return "", false
	}
}

// splitKV splits "Key = Value" tolerating arbitrary spacing around '='.
// eqSpacing is the exact text from the end of the trimmed key to the
// start of the trimmed value (including the '=' itself).
func splitKV(line string) (key, eqSpacing, value string, ok bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", "", false
	}
	rawKey := line[:idx]
	rawVal := line[idx+1:]
	key = strings.TrimRight(rawKey, " \t")
	if key == "" {
		return "", "", "", false
	}
	leadSpacesAfterKey := rawKey[len(key):]
	valTrimmed := strings.TrimLeft(rawVal, " \t")
	trailSpacesBeforeVal := rawVal[:len(rawVal)-len(valTrimmed)]
	value = strings.TrimRight(valTrimmed, " \t")
	eqSpacing = leadSpacesAfterKey + "=" + trailSpacesBeforeVal
	return key, eqSpacing, value, true
}

// splitInlineComment detects a trailing "# ..." or "; ..." comment on
// a field line. WireGuard key values never legitimately contain a
// space followed by '#' or ';', so this heuristic is safe in practice.
func splitInlineComment(value string) (string, *Comment) {
	for _, marker := range []byte{'#', ';'} {
		if idx := strings.IndexByte(value, marker); idx > 0 && value[idx-1] == ' ' {
			text := strings.TrimSpace(value[idx+1:])
			v := strings.TrimRight(value[:idx], " ")
			return v, &Comment{Position: CommentInline, Marker: marker, Text: text}
		}
	}
	return value, nil
}

func splitMultiValue(lowerKey, value string) ([]string, string) {
	switch lowerKey {
	case "address", "dns", "allowedips":
		if !strings.Contains(value, ",") {
			return []string{value}, ""
		}
		parts := strings.Split(value, ",")
		delim := ","
		// Detect ", " vs "," by inspecting the first separator occurrence.
		if idx := strings.Index(value, ","); idx >= 0 && idx+1 < len(value) && value[idx+1] == ' ' {
			delim = ", "
		}
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, delim
	default:
		return []string{value}, ""
	}
}
