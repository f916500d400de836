package claims

import (
	"bytes"
	"errors"

	"github.com/jmerrifield20/mutualboard/internal/notary"
)

// maxDepth bounds object and array nesting.
const maxDepth = 32

var (
	errRedacted  = errors.New("document overlaps a redacted region")
	errTruncated = errors.New("transcript ends inside the document")
	errSyntax    = errors.New("malformed document")
	errNoBody    = errors.New("no response body")
)

type kind int

const (
	kindString kind = iota
	kindNumber
	kindTrue
	kindFalse
	kindNull
	kindObject
	kindArray
)

// member is one key/value pair of an object. Only scalar strings keep their
// contents; keys are compared on their raw bytes.
type member struct {
	key     string
	kind    kind
	str     string
	escaped bool
}

type object struct {
	members []member
}

func (o *object) lookup(key string) []member {
	var out []member
	for _, m := range o.members {
		if m.key == key {
			out = append(out, m)
		}
	}
	return out
}

func (o *object) holdsHandle() bool {
	for _, m := range o.members {
		if m.key == keyScreenName && m.kind == kindString {
			return true
		}
	}
	return false
}

// parser walks the response body, refusing every redacted byte it reaches.
// It stops as soon as the first object with a screen_name member closes, so
// anything after that object may stay redacted.
type parser struct {
	data  []byte
	t     *notary.Transcript
	pos   int
	depth int
	open  []*object
	found *object
}

// claimObject returns the object the claims are read from. On failure,
// afterHandle reports whether an enclosing object had already yielded an
// authenticated handle, which makes the failure a relationship one.
func claimObject(t *notary.Transcript) (obj *object, afterHandle bool, err error) {
	p := &parser{data: t.Bytes(), t: t}
	p.pos = bodyStart(p.data, t)
	err = p.document()
	if p.found != nil {
		return p.found, false, nil
	}
	if err == nil {
		return nil, false, errors.New("no screen_name member")
	}
	for _, o := range p.open {
		if o.holdsHandle() {
			return nil, true, err
		}
	}
	return nil, false, err
}

// bodyStart skips an HTTP status line, headers and a leading chunk-size line.
// A transcript that does not start with a status line is taken to be the
// body alone.
func bodyStart(data []byte, t *notary.Transcript) int {
	if !bytes.HasPrefix(data, []byte("HTTP/")) || !t.Authenticated(0, len("HTTP/")) {
		return 0
	}
	start := -1
	for _, sep := range []string{"\r\n\r\n", "\n\n"} {
		if i := indexAuthenticated(data, t, sep); i >= 0 {
			start = i + len(sep)
			break
		}
	}
	if start < 0 {
		return len(data)
	}
	i := start
	for i < len(data) && isHex(data[i]) && t.Authenticated(i, i+1) {
		i++
	}
	if i > start && t.Authenticated(i, i+2) && bytes.HasPrefix(data[i:], []byte("\r\n")) {
		return i + 2
	}
	return start
}

func indexAuthenticated(data []byte, t *notary.Transcript, sep string) int {
	for from := 0; from < len(data); {
		i := bytes.Index(data[from:], []byte(sep))
		if i < 0 {
			return -1
		}
		if t.Authenticated(from+i, from+i+len(sep)) {
			return from + i
		}
		from += i + 1
	}
	return -1
}

// at returns the byte at i, failing on redacted or missing bytes.
func (p *parser) at(i int) (byte, error) {
	if i >= len(p.data) {
		return 0, errTruncated
	}
	if !p.t.Authenticated(i, i+1) {
		return 0, errRedacted
	}
	return p.data[i], nil
}

// peek skips whitespace and returns the next significant byte.
func (p *parser) peek() (byte, error) {
	for {
		c, err := p.at(p.pos)
		if err != nil {
			return 0, err
		}
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return c, nil
		}
		p.pos++
	}
}

func (p *parser) expect(want byte) error {
	c, err := p.peek()
	if err != nil {
		return err
	}
	if c != want {
		return errSyntax
	}
	p.pos++
	return nil
}

func (p *parser) document() error {
	if p.pos >= len(p.data) {
		return errNoBody
	}
	c, err := p.peek()
	if err != nil {
		return err
	}
	if c != '{' && c != '[' {
		return errSyntax
	}
	_, err = p.value()
	return err
}

func (p *parser) value() (member, error) {
	c, err := p.peek()
	if err != nil {
		return member{}, err
	}
	switch {
	case c == '{':
		return member{kind: kindObject}, p.object()
	case c == '[':
		return member{kind: kindArray}, p.array()
	case c == '"':
		s, escaped, err := p.str()
		return member{kind: kindString, str: s, escaped: escaped}, err
	case c == 't':
		return member{kind: kindTrue}, p.literal("true")
	case c == 'f':
		return member{kind: kindFalse}, p.literal("false")
	case c == 'n':
		return member{kind: kindNull}, p.literal("null")
	case c == '-' || isDigit(c):
		return member{kind: kindNumber}, p.number()
	}
	return member{}, errSyntax
}

func (p *parser) object() error {
	if p.depth++; p.depth > maxDepth {
		return errSyntax
	}
	p.pos++
	obj := &object{}
	p.open = append(p.open, obj)

	c, err := p.peek()
	if err != nil {
		return err
	}
	if c == '}' {
		p.pos++
		return p.close(obj)
	}
	for {
		if c, err = p.peek(); err != nil {
			return err
		}
		if c != '"' {
			return errSyntax
		}
		key, _, err := p.str()
		if err != nil {
			return err
		}
		if err := p.expect(':'); err != nil {
			return err
		}
		m, err := p.value()
		if err != nil || p.found != nil {
			return err
		}
		m.key = key
		obj.members = append(obj.members, m)

		if c, err = p.peek(); err != nil {
			return err
		}
		p.pos++
		switch c {
		case '}':
			return p.close(obj)
		case ',':
		default:
			return errSyntax
		}
	}
}

func (p *parser) close(obj *object) error {
	p.open = p.open[:len(p.open)-1]
	p.depth--
	if len(obj.lookup(keyScreenName)) > 0 {
		p.found = obj
	}
	return nil
}

func (p *parser) array() error {
	if p.depth++; p.depth > maxDepth {
		return errSyntax
	}
	p.pos++
	c, err := p.peek()
	if err != nil {
		return err
	}
	if c == ']' {
		p.pos++
		p.depth--
		return nil
	}
	for {
		if _, err := p.value(); err != nil || p.found != nil {
			return err
		}
		if c, err = p.peek(); err != nil {
			return err
		}
		p.pos++
		switch c {
		case ']':
			p.depth--
			return nil
		case ',':
		default:
			return errSyntax
		}
	}
}

// str consumes a quoted string starting at p.pos and returns its raw
// contents. escaped reports whether any escape sequence was present.
func (p *parser) str() (s string, escaped bool, err error) {
	start := p.pos + 1
	for i := start; ; i++ {
		c, err := p.at(i)
		if err != nil {
			return "", false, err
		}
		switch {
		case c == '"':
			p.pos = i + 1
			return string(p.data[start:i]), escaped, nil
		case c < 0x20:
			return "", false, errSyntax
		case c == '\\':
			escaped = true
			i++
			e, err := p.at(i)
			if err != nil {
				return "", false, err
			}
			if e == 'u' {
				for j := 1; j <= 4; j++ {
					h, err := p.at(i + j)
					if err != nil {
						return "", false, err
					}
					if !isHex(h) {
						return "", false, errSyntax
					}
				}
				i += 4
			} else if !bytes.ContainsRune([]byte(`"\/bfnrt`), rune(e)) {
				return "", false, errSyntax
			}
		}
	}
}

func (p *parser) literal(word string) error {
	for i := 0; i < len(word); i++ {
		c, err := p.at(p.pos + i)
		if err != nil {
			return err
		}
		if c != word[i] {
			return errSyntax
		}
	}
	p.pos += len(word)
	return nil
}

func (p *parser) number() error {
	start := p.pos
	for {
		if p.pos >= len(p.data) {
			break
		}
		c, err := p.at(p.pos)
		if err != nil {
			return err
		}
		if !isDigit(c) && c != '-' && c != '+' && c != '.' && c != 'e' && c != 'E' {
			break
		}
		p.pos++
	}
	for _, c := range p.data[start:p.pos] {
		if isDigit(c) {
			return nil
		}
	}
	return errSyntax
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
