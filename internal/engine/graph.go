package engine

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrSyntax marks descriptions that are not well-formed launch lines.
	ErrSyntax = errors.New("syntax error")
	// ErrNoSuchElement marks unknown element factories.
	ErrNoSuchElement = errors.New("no such element")
	// ErrLink marks elements placed where they cannot be linked.
	ErrLink = errors.New("could not link")
	// ErrNotNegotiated marks links whose formats do not match.
	ErrNotNegotiated = errors.New("not negotiated")
)

var payloaderName = regexp.MustCompile(`^pay([0-9]+)$`)

// Node is one element or caps filter of a launch line.
type Node struct {
	// Factory is the element factory name. It is empty for caps filters.
	Factory string
	// Caps is the media type of a caps filter, e.g. "video/x-raw".
	Caps string
	// Props holds element properties or caps fields.
	Props map[string]string
}

// IsCaps reports whether n is a caps filter.
func (n *Node) IsCaps() bool { return n.Caps != "" }

func (n *Node) String() string {
	if n.IsCaps() {
		return n.Caps
	}
	if name, ok := n.Props["name"]; ok {
		return name
	}
	return n.Factory
}

// Chain is a run of linked nodes, upstream first.
type Chain []*Node

// Graph is a parsed launch line. Every chain starts at a source and ends in
// a payloader named payN.
type Graph struct {
	Chains []Chain

	pays []payloader
}

type payloader struct {
	index int
	node  *Node
	media string
	codec string
	pt    uint8
	chain Chain
}

// Parse parses a launch line such as
//
//	videotestsrc ! video/x-raw,width=640,height=480 ! x264enc ! rtph264pay name=pay0
//
// Elements separated by "!" are linked. An element following another within
// the same link segment starts a new, unlinked chain.
func Parse(description string) (*Graph, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: empty pipeline description", ErrSyntax)
	}

	segments, err := split(description, func(r rune) bool { return r == '!' }, true)
	if err != nil {
		return nil, err
	}

	g := &Graph{}
	var chain Chain
	for i, seg := range segments {
		tokens, err := split(seg, unicode.IsSpace, false)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			return nil, fmt.Errorf("%w: empty element at link %d", ErrSyntax, i)
		}
		nodes, err := parseSegment(tokens)
		if err != nil {
			return nil, err
		}
		for j, n := range nodes {
			if j > 0 {
				g.Chains = append(g.Chains, chain)
				chain = nil
			}
			chain = append(chain, n)
		}
	}
	g.Chains = append(g.Chains, chain)

	if err := g.check(); err != nil {
		return nil, err
	}
	return g, nil
}

// parseSegment turns the tokens between two links into nodes with their
// properties attached.
func parseSegment(tokens []string) ([]*Node, error) {
	var nodes []*Node
	var cur *Node
	for _, tok := range tokens {
		head, _, _ := strings.Cut(tok, ",")
		if !strings.Contains(head, "=") {
			n, err := parseNode(tok)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
			cur = n
			continue
		}

		if cur == nil {
			return nil, fmt.Errorf("%w: property %q without element", ErrSyntax, tok)
		}
		if cur.IsCaps() {
			if err := parseFields(cur, strings.Split(tok, ",")); err != nil {
				return nil, err
			}
			continue
		}
		if err := parseProp(cur, tok); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

func parseNode(tok string) (*Node, error) {
	parts := strings.Split(tok, ",")
	if strings.Contains(parts[0], "/") {
		n := &Node{Caps: parts[0], Props: make(map[string]string)}
		if _, _, ok := capsCodec(n.Caps); !ok {
			return nil, fmt.Errorf("%w: unsupported caps %q", ErrSyntax, n.Caps)
		}
		if err := parseFields(n, parts[1:]); err != nil {
			return nil, err
		}
		return n, nil
	}

	if len(parts) > 1 {
		return nil, fmt.Errorf("%w: unexpected ',' in %q", ErrSyntax, tok)
	}
	if _, ok := catalog[tok]; !ok {
		return nil, fmt.Errorf("%w %q", ErrNoSuchElement, tok)
	}
	return &Node{Factory: tok, Props: make(map[string]string)}, nil
}

// parseFields adds caps fields such as width=(int)640 to n.
func parseFields(n *Node, fields []string) error {
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" || value == "" {
			return fmt.Errorf("%w: malformed caps field %q in %s", ErrSyntax, f, n.Caps)
		}
		if strings.HasPrefix(value, "(") {
			if end := strings.Index(value, ")"); end > 0 {
				value = value[end+1:]
			}
		}
		n.Props[key] = unquote(value)
	}
	return nil
}

func parseProp(n *Node, tok string) error {
	key, value, _ := strings.Cut(tok, "=")
	value = unquote(value)
	if key == "" || value == "" {
		return fmt.Errorf("%w: malformed property %q on %s", ErrSyntax, tok, n.Factory)
	}
	n.Props[key] = value
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// split cuts s at runes matching isSep, ignoring separators inside double quotes.
func split(s string, isSep func(rune) bool, keepEmpty bool) ([]string, error) {
	var out []string
	var cur strings.Builder
	quoted := false

	flush := func() {
		if keepEmpty || cur.Len() > 0 {
			out = append(out, cur.String())
		}
		cur.Reset()
	}

	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case !quoted && isSep(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("%w: unterminated quote", ErrSyntax)
	}
	flush()
	return out, nil
}

// check enforces the structural rules: sources first, payloaders last,
// required properties, and unique payN names.
func (g *Graph) check() error {
	seen := make(map[int]bool)
	for _, c := range g.Chains {
		first := c[0]
		if first.IsCaps() || catalog[first.Factory].kind != kindSource {
			return fmt.Errorf("%w: %s has no upstream source", ErrLink, first)
		}

		for i, n := range c {
			if n.IsCaps() {
				continue
			}
			el := catalog[n.Factory]
			for _, p := range el.required {
				if _, ok := n.Props[p]; !ok {
					return fmt.Errorf("%w: %s requires property %q", ErrSyntax, n.Factory, p)
				}
			}
			if i > 0 && el.kind == kindSource {
				return fmt.Errorf("%w: source %s cannot follow %s", ErrLink, n, c[i-1])
			}
			if el.kind == kindPayloader && i != len(c)-1 {
				return fmt.Errorf("%w: payloader %s must end its chain", ErrLink, n)
			}
		}

		last := c[len(c)-1]
		if last.IsCaps() || catalog[last.Factory].kind != kindPayloader {
			return fmt.Errorf("%w: chain ending in %s has no payloader", ErrLink, last)
		}

		p, err := newPayloader(last, c)
		if err != nil {
			return err
		}
		if seen[p.index] {
			return fmt.Errorf("%w: duplicate payloader name pay%d", ErrSyntax, p.index)
		}
		seen[p.index] = true
		g.pays = append(g.pays, p)
	}

	sort.Slice(g.pays, func(i, j int) bool { return g.pays[i].index < g.pays[j].index })
	return nil
}

func newPayloader(n *Node, c Chain) (payloader, error) {
	el := catalog[n.Factory]
	m := payloaderName.FindStringSubmatch(n.Props["name"])
	if m == nil {
		return payloader{}, fmt.Errorf("%w: payloader %s must be named payN", ErrSyntax, n.Factory)
	}
	index, err := strconv.Atoi(m[1])
	if err != nil {
		return payloader{}, fmt.Errorf("%w: payloader name %q", ErrSyntax, m[0])
	}

	p := payloader{index: index, node: n, media: el.media, codec: el.codec, pt: 96, chain: c}
	static, isStatic := staticPayloadType(el.codec)
	if isStatic {
		p.pt = static
	}

	if raw, ok := n.Props["pt"]; ok {
		v, err := strconv.ParseUint(raw, 10, 8)
		if err != nil || v > 127 {
			return payloader{}, fmt.Errorf("%w: invalid pt %q on %s", ErrSyntax, raw, n)
		}
		if !isStatic && v < 96 {
			return payloader{}, fmt.Errorf("%w: %s needs a dynamic payload type (96-127), got %d", ErrSyntax, n, v)
		}
		// JPEG over RTP is only described with its static type.
		if el.codec == codecMJPEG && v != uint64(static) {
			return payloader{}, fmt.Errorf("%w: %s only supports pt=%d, got %d", ErrSyntax, n, static, v)
		}
		p.pt = uint8(v)
	}
	return p, nil
}

type flow struct {
	media string
	codec string
}

func (f flow) String() string {
	if f.media == "" {
		return f.codec
	}
	return f.media + "/" + f.codec
}

// accepts reports whether f can feed an input of the given media and codec.
func (f flow) accepts(media, codec string) bool {
	if media != "" && f.media != "" && f.media != media {
		return false
	}
	return f.codec == codecAny || codec == codecAny || f.codec == codec
}

// negotiate walks c downstream and checks every link's formats.
func negotiate(c Chain) error {
	var cur flow
	for i, n := range c {
		if n.IsCaps() {
			media, codec, _ := capsCodec(n.Caps)
			if !cur.accepts(media, codec) {
				return fmt.Errorf("%w: %s output (%s) does not match caps %s", ErrNotNegotiated, c[i-1], cur, n.Caps)
			}
			cur = flow{media: media, codec: codec}
			continue
		}

		el := catalog[n.Factory]
		var in string
		switch el.kind {
		case kindSource:
			cur = flow{media: el.media, codec: el.codec}
			continue
		case kindDemuxer:
			cur = flow{codec: codecAny}
			continue
		case kindFilter:
			if el.media == "" {
				continue
			}
			in = codecRaw
		case kindEncoder:
			in = codecRaw
		case kindParser, kindPayloader:
			in = el.codec
		}

		if !cur.accepts(el.media, in) {
			return fmt.Errorf("%w: could not link %s (%s) to %s", ErrNotNegotiated, c[i-1], cur, n)
		}
		cur = flow{media: el.media, codec: el.codec}
	}
	return nil
}
