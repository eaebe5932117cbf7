package srclib

import (
	"fmt"
	"strings"
)

// Spec is a parsed source library reference of the form
// [number:]name[/subdir]@ref.
type Spec struct {
	Name   string
	Ref    string
	Number string
	Subdir string
}

func (s Spec) String() string {
	var b strings.Builder
	if s.Number != "" {
		b.WriteString(s.Number + ":")
	}
	b.WriteString(s.Name)
	if s.Subdir != "" {
		b.WriteString("/" + s.Subdir)
	}
	b.WriteString("@" + s.Ref)
	return b.String()
}

// ParseError reports a malformed spec string or an unknown library.
type ParseError struct {
	Spec   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("srclib spec '%s': %s", e.Spec, e.Reason)
}

// ParseSpec parses a source library spec. The ref is mandatory. A number
// prefix is only recognised before the first '/'.
func ParseSpec(spec string) (Spec, error) {
	tokens := strings.Split(spec, "@")
	switch {
	case len(tokens) > 2:
		return Spec{}, &ParseError{Spec: spec, Reason: "too many '@' signs"}
	case len(tokens) < 2:
		return Spec{}, &ParseError{Spec: spec, Reason: "no ref specified"}
	}

	name, ref := tokens[0], tokens[1]
	if ref == "" {
		return Spec{}, &ParseError{Spec: spec, Reason: "empty ref"}
	}

	s := Spec{Ref: ref}
	if head, rest, ok := strings.Cut(name, "/"); ok {
		name, s.Subdir = head, rest
	}
	if num, rest, ok := strings.Cut(name, ":"); ok {
		s.Number, name = num, rest
	}
	if name == "" {
		return Spec{}, &ParseError{Spec: spec, Reason: "no name specified"}
	}
	s.Name = name
	return s, nil
}
