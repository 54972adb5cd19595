// Package tsfile implements reading and writing of Qt Linguist TS
// translation files (.ts), the XML format produced by lupdate and
// consumed by Qt Linguist and lrelease.
//
// Parsing preserves document order and keeps unrecognized elements and
// attributes verbatim, so a parse/marshal round trip of a file in
// canonical lupdate form is byte-identical apart from translation
// fields deliberately changed in between.
package tsfile

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ---------------------------------------------------------------------------
// Data model
// ---------------------------------------------------------------------------

// Location is a source code reference attached to a message.
// Line is kept as a string because lupdate may emit relative line
// numbers ("+3") when run with -locations relative.
type Location struct {
	Filename string
	Line     string
}

// String renders the location the way prompts display it ("file:line").
func (l Location) String() string {
	switch {
	case l.Filename != "" && l.Line != "":
		return l.Filename + ":" + l.Line
	case l.Filename != "":
		return l.Filename
	case l.Line != "":
		return "line " + l.Line
	}
	return ""
}

// Message represents a single <message> element.
type Message struct {
	// Source is the untranslated text.
	Source string
	// Translation is the translated text (may be empty).
	Translation string
	// TranslationType is the type attribute of <translation>:
	// "unfinished", "vanished", "obsolete", or empty when finished.
	TranslationType string
	// HasTranslation records whether the source document carried a
	// <translation> element at all.
	HasTranslation bool
	// TranslationAttrs holds <translation> attributes other than type,
	// preserved verbatim.
	TranslationAttrs []xml.Attr

	// Locations are the <location> references in document order.
	Locations []Location
	// Comment is the disambiguating <comment> (Qt's msgctxt equivalent).
	Comment string
	// ExtraComment is the developer-provided <extracomment>.
	ExtraComment string
	// TranslatorComment is the <translatorcomment>.
	TranslatorComment string
	// OldSource is the previous source text (<oldsource>).
	OldSource string

	// Attrs holds <message> attributes (e.g. numerus="yes", id="...").
	Attrs []xml.Attr
	// Extra holds unrecognized child elements as raw XML, re-emitted
	// verbatim on marshal.
	Extra []string

	// hasComment and friends record element presence so empty elements
	// survive the round trip.
	hasComment           bool
	hasExtraComment      bool
	hasTranslatorComment bool
	hasOldSource         bool

	// rawSource and friends mark fields that carried inline child
	// elements (numerusform, byte). Such fields hold wire-form XML and
	// are written back verbatim instead of re-escaped.
	rawSource      bool
	rawTranslation bool
	rawOldSource   bool
}

// Finished reports whether the message carries a final translation:
// non-blank text and a type other than "unfinished".
func (m *Message) Finished() bool {
	if m.TranslationType == "unfinished" {
		return false
	}
	return strings.TrimSpace(m.Translation) != ""
}

// SetTranslation replaces the translation text and clears the
// "unfinished" marker, leaving other type values untouched.
func (m *Message) SetTranslation(text string) {
	m.Translation = text
	m.HasTranslation = true
	m.rawTranslation = false
	if m.TranslationType == "unfinished" {
		m.TranslationType = ""
	}
}

// Context represents a <context> element: a named group of messages.
type Context struct {
	// Name is the context name (<name>), usually a class name.
	Name string
	// Messages in document order.
	Messages []*Message
	// Extra holds unrecognized child elements as raw XML.
	Extra []string
}

// File represents a parsed TS document.
type File struct {
	// Attrs are the <TS> element attributes (version, language,
	// sourcelanguage), preserved in order.
	Attrs []xml.Attr
	// Contexts in document order.
	Contexts []*Context
	// Extra holds unrecognized children of <TS> as raw XML.
	Extra []string
	// HasDoctype records whether the document carried <!DOCTYPE TS>.
	HasDoctype bool
}

// Attr returns a <TS> attribute value by name ("" if absent).
func (f *File) Attr(name string) string {
	for _, a := range f.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Language returns the target language code declared on <TS>.
func (f *File) Language() string { return f.Attr("language") }

// ---------------------------------------------------------------------------
// Units
// ---------------------------------------------------------------------------

// Unit is one translatable entry: a message with a non-empty source,
// identified by its position in the template's original order. Source
// text is not unique; SequenceIndex is the only stable identity.
type Unit struct {
	// SequenceIndex is the unit's position among all units, in document order.
	SequenceIndex int
	// Context is the owning context name.
	Context string
	// Message is the underlying message, shared with the File.
	Message *Message
}

// Key returns the "context:source" key used by checkpoint files.
func (u *Unit) Key() string {
	return u.Context + ":" + u.Message.Source
}

// Units returns the ordered sequence of translatable units: every
// message with a non-blank source, in document order. Messages without
// a source are preserved in the file but never exported.
func (f *File) Units() []*Unit {
	var units []*Unit
	for _, ctx := range f.Contexts {
		for _, m := range ctx.Messages {
			if strings.TrimSpace(m.Source) == "" {
				continue
			}
			units = append(units, &Unit{
				SequenceIndex: len(units),
				Context:       ctx.Name,
				Message:       m,
			})
		}
	}
	return units
}

// Stats returns (total, finished, unfinished) counts over all units.
func (f *File) Stats() (total, finished, unfinished int) {
	for _, u := range f.Units() {
		total++
		if u.Message.Finished() {
			finished++
		} else {
			unfinished++
		}
	}
	return
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ParseError reports a malformed TS document. It is fatal: no partial
// recovery is attempted.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parsing TS document: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// ParseFile reads and parses a TS file from disk.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
			return nil, pe
		}
		return nil, &ParseError{Path: path, Err: err}
	}
	return f, nil
}

// Parse parses TS document bytes.
func Parse(data []byte) (*File, error) {
	f := &File{}
	dec := xml.NewDecoder(strings.NewReader(string(data)))

	sawTS := false
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &ParseError{Err: err}
		}

		switch t := tok.(type) {
		case xml.Directive:
			if strings.HasPrefix(strings.TrimSpace(string(t)), "DOCTYPE") {
				f.HasDoctype = true
			}
		case xml.StartElement:
			if t.Name.Local != "TS" {
				return nil, &ParseError{Err: fmt.Errorf("unexpected root element <%s>, want <TS>", t.Name.Local)}
			}
			sawTS = true
			f.Attrs = copyAttrs(t.Attr)
			if err := parseTSBody(dec, f); err != nil {
				return nil, err
			}
		}
	}

	if !sawTS {
		return nil, &ParseError{Err: fmt.Errorf("no <TS> root element found")}
	}
	return f, nil
}

// parseTSBody consumes children of <TS> until its end tag.
func parseTSBody(dec *xml.Decoder, f *File) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return &ParseError{Err: fmt.Errorf("inside <TS>: %w", err)}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "context" {
				ctx, err := parseContext(dec)
				if err != nil {
					return err
				}
				f.Contexts = append(f.Contexts, ctx)
			} else {
				raw, err := rawElement(dec, t)
				if err != nil {
					return &ParseError{Err: err}
				}
				f.Extra = append(f.Extra, raw)
			}
		case xml.EndElement:
			if t.Name.Local == "TS" {
				return nil
			}
		}
	}
}

// parseContext parses a <context> element already opened.
func parseContext(dec *xml.Decoder) (*Context, error) {
	ctx := &Context{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, &ParseError{Err: fmt.Errorf("inside <context>: %w", err)}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				text, _, err := elementText(dec)
				if err != nil {
					return nil, &ParseError{Err: fmt.Errorf("reading <name>: %w", err)}
				}
				ctx.Name = text
			case "message":
				m, err := parseMessage(dec, t)
				if err != nil {
					return nil, err
				}
				ctx.Messages = append(ctx.Messages, m)
			default:
				raw, err := rawElement(dec, t)
				if err != nil {
					return nil, &ParseError{Err: err}
				}
				ctx.Extra = append(ctx.Extra, raw)
			}
		case xml.EndElement:
			if t.Name.Local == "context" {
				return ctx, nil
			}
		}
	}
}

// parseMessage parses a <message> element already opened.
func parseMessage(dec *xml.Decoder, elem xml.StartElement) (*Message, error) {
	m := &Message{Attrs: copyAttrs(elem.Attr)}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, &ParseError{Err: fmt.Errorf("inside <message>: %w", err)}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "location":
				var loc Location
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "filename":
						loc.Filename = a.Value
					case "line":
						loc.Line = a.Value
					}
				}
				m.Locations = append(m.Locations, loc)
				if err := dec.Skip(); err != nil {
					return nil, &ParseError{Err: fmt.Errorf("reading <location>: %w", err)}
				}
			case "source":
				text, raw, err := elementText(dec)
				if err != nil {
					return nil, &ParseError{Err: fmt.Errorf("reading <source>: %w", err)}
				}
				m.Source = text
				m.rawSource = raw
			case "oldsource":
				text, raw, err := elementText(dec)
				if err != nil {
					return nil, &ParseError{Err: fmt.Errorf("reading <oldsource>: %w", err)}
				}
				m.OldSource = text
				m.hasOldSource = true
				m.rawOldSource = raw
			case "translation":
				m.HasTranslation = true
				for _, a := range t.Attr {
					if a.Name.Local == "type" {
						m.TranslationType = a.Value
					} else {
						m.TranslationAttrs = append(m.TranslationAttrs, a)
					}
				}
				text, raw, err := elementText(dec)
				if err != nil {
					return nil, &ParseError{Err: fmt.Errorf("reading <translation>: %w", err)}
				}
				m.Translation = text
				m.rawTranslation = raw
			case "comment":
				text, _, err := elementText(dec)
				if err != nil {
					return nil, &ParseError{Err: fmt.Errorf("reading <comment>: %w", err)}
				}
				m.Comment = text
				m.hasComment = true
			case "extracomment":
				text, _, err := elementText(dec)
				if err != nil {
					return nil, &ParseError{Err: fmt.Errorf("reading <extracomment>: %w", err)}
				}
				m.ExtraComment = text
				m.hasExtraComment = true
			case "translatorcomment":
				text, _, err := elementText(dec)
				if err != nil {
					return nil, &ParseError{Err: fmt.Errorf("reading <translatorcomment>: %w", err)}
				}
				m.TranslatorComment = text
				m.hasTranslatorComment = true
			default:
				raw, err := rawElement(dec, t)
				if err != nil {
					return nil, &ParseError{Err: err}
				}
				m.Extra = append(m.Extra, raw)
			}
		case xml.EndElement:
			if t.Name.Local == "message" {
				return m, nil
			}
		}
	}
}

// elementText reads the full inner text of an element until its close
// tag, reconstructing inline child elements as raw markup, including
// whether each empty child was self-closed. When markup was present the
// returned string is wire-form XML and markup is true; the caller must
// then write it back verbatim.
func elementText(dec *xml.Decoder) (string, bool, error) {
	var plain, wire strings.Builder
	markup := false
	depth := 1
	open := false
	var mark int64
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", false, err
		}
		switch t := tok.(type) {
		case xml.CharData:
			if open {
				wire.WriteString(">")
				open = false
			}
			plain.Write(t)
			wire.WriteString(escapeText(string(t)))
		case xml.StartElement:
			if open {
				wire.WriteString(">")
			}
			depth++
			markup = true
			writeTagOpen(&wire, t)
			open = true
			mark = dec.InputOffset()
		case xml.EndElement:
			depth--
			if depth > 0 {
				writeTagClose(&wire, t.Name, open, dec.InputOffset() == mark)
				open = false
			}
		}
	}
	if markup {
		return wire.String(), true, nil
	}
	return plain.String(), false, nil
}

// rawElement re-renders an unrecognized element (tag, attributes, and
// full content) as verbatim XML so it can be written back unchanged.
func rawElement(dec *xml.Decoder, elem xml.StartElement) (string, error) {
	var b strings.Builder
	writeTagOpen(&b, elem)
	depth := 1
	open := true
	mark := dec.InputOffset()
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("reading <%s>: %w", elem.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if open {
				b.WriteString(">")
				open = false
			}
			b.WriteString(escapeText(string(t)))
		case xml.Comment:
			if open {
				b.WriteString(">")
				open = false
			}
			b.WriteString("<!--")
			b.Write(t)
			b.WriteString("-->")
		case xml.StartElement:
			if open {
				b.WriteString(">")
			}
			depth++
			writeTagOpen(&b, t)
			open = true
			mark = dec.InputOffset()
		case xml.EndElement:
			depth--
			writeTagClose(&b, t.Name, open, dec.InputOffset() == mark)
			open = false
			if depth == 0 {
				return b.String(), nil
			}
		}
	}
	return b.String(), nil
}

// writeTagOpen writes a start tag without its closing ">"; writeTagClose
// completes it. The decoder does not advance InputOffset when it
// synthesizes the end token of a self-closed tag, which is how
// <dependency/> is told apart from <dependency></dependency> so both
// forms round-trip as written.
func writeTagOpen(b *strings.Builder, t xml.StartElement) {
	b.WriteString("<")
	writeName(b, t.Name)
	for _, a := range t.Attr {
		b.WriteString(" ")
		writeName(b, a.Name)
		b.WriteString(`="`)
		b.WriteString(escapeAttr(a.Value))
		b.WriteString(`"`)
	}
}

func writeTagClose(b *strings.Builder, n xml.Name, open, selfClosed bool) {
	if open && selfClosed {
		b.WriteString("/>")
		return
	}
	if open {
		b.WriteString(">")
	}
	b.WriteString("</")
	writeName(b, n)
	b.WriteString(">")
}

func writeName(b *strings.Builder, n xml.Name) {
	if n.Space != "" {
		b.WriteString(n.Space)
		b.WriteString(":")
	}
	b.WriteString(n.Local)
}

func copyAttrs(attrs []xml.Attr) []xml.Attr {
	if len(attrs) == 0 {
		return nil
	}
	return append([]xml.Attr(nil), attrs...)
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// WriteFile writes the TS document to disk in canonical lupdate form.
func (f *File) WriteFile(path string) error {
	return os.WriteFile(path, f.Marshal(), 0644)
}

// Marshal produces the XML output in Qt Linguist's canonical lupdate
// format: XML declaration, DOCTYPE, 4-space indentation.
func (f *File) Marshal() []byte {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	if f.HasDoctype {
		b.WriteString("<!DOCTYPE TS>\n")
	}

	b.WriteString("<TS")
	for _, a := range f.Attrs {
		fmt.Fprintf(&b, ` %s="%s"`, attrName(a.Name), escapeAttr(a.Value))
	}
	b.WriteString(">\n")

	for _, raw := range f.Extra {
		b.WriteString(raw)
		b.WriteString("\n")
	}

	for _, ctx := range f.Contexts {
		marshalContext(&b, ctx)
	}

	b.WriteString("</TS>\n")
	return []byte(b.String())
}

func marshalContext(b *strings.Builder, ctx *Context) {
	b.WriteString("<context>\n")
	fmt.Fprintf(b, "    <name>%s</name>\n", escapeText(ctx.Name))
	for _, raw := range ctx.Extra {
		b.WriteString("    ")
		b.WriteString(raw)
		b.WriteString("\n")
	}
	for _, m := range ctx.Messages {
		marshalMessage(b, m)
	}
	b.WriteString("</context>\n")
}

func marshalMessage(b *strings.Builder, m *Message) {
	b.WriteString("    <message")
	for _, a := range m.Attrs {
		fmt.Fprintf(b, ` %s="%s"`, attrName(a.Name), escapeAttr(a.Value))
	}
	b.WriteString(">\n")

	for _, loc := range m.Locations {
		b.WriteString("        <location")
		if loc.Filename != "" {
			fmt.Fprintf(b, ` filename="%s"`, escapeAttr(loc.Filename))
		}
		if loc.Line != "" {
			fmt.Fprintf(b, ` line="%s"`, escapeAttr(loc.Line))
		}
		b.WriteString("/>\n")
	}

	fmt.Fprintf(b, "        <source>%s</source>\n", fieldText(m.Source, m.rawSource))
	if m.hasOldSource {
		fmt.Fprintf(b, "        <oldsource>%s</oldsource>\n", fieldText(m.OldSource, m.rawOldSource))
	}
	if m.hasComment {
		fmt.Fprintf(b, "        <comment>%s</comment>\n", escapeText(m.Comment))
	}
	if m.hasExtraComment {
		fmt.Fprintf(b, "        <extracomment>%s</extracomment>\n", escapeText(m.ExtraComment))
	}
	if m.hasTranslatorComment {
		fmt.Fprintf(b, "        <translatorcomment>%s</translatorcomment>\n", escapeText(m.TranslatorComment))
	}

	if m.HasTranslation {
		b.WriteString("        <translation")
		if m.TranslationType != "" {
			fmt.Fprintf(b, ` type="%s"`, escapeAttr(m.TranslationType))
		}
		for _, a := range m.TranslationAttrs {
			fmt.Fprintf(b, ` %s="%s"`, attrName(a.Name), escapeAttr(a.Value))
		}
		fmt.Fprintf(b, ">%s</translation>\n", fieldText(m.Translation, m.rawTranslation))
	}

	for _, raw := range m.Extra {
		b.WriteString("        ")
		b.WriteString(raw)
		b.WriteString("\n")
	}

	b.WriteString("    </message>\n")
}

// fieldText renders a message field: wire-form fields go out verbatim,
// plain text is escaped.
func fieldText(s string, raw bool) string {
	if raw {
		return s
	}
	return escapeText(s)
}

func attrName(n xml.Name) string {
	if n.Space != "" {
		return n.Space + ":" + n.Local
	}
	return n.Local
}

// escapeText escapes text content the way Qt Linguist's writer does:
// the five XML special characters, newlines kept literal.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}

func escapeAttr(s string) string {
	return escapeText(s)
}
