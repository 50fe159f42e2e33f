// Package routetable keeps the gateway routing table stored in a YAML document.
//
// The document is parsed into a yaml.Node tree to find the routes mapping, but
// it is written back as text: only the lines of the routes block are rebuilt,
// and unchanged routes keep their original lines. Everything else in the file
// is copied byte for byte.
package routetable

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/melih/lighthouse-migrator/internal/adapters/filetx"
	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// DefaultSection is the top-level key holding the routes mapping.
const DefaultSection = "zuul"

const routesKey = "routes"

type entry struct {
	route domain.Route
	// node is the value node as read; nil for routes changed since.
	node *yaml.Node
}

// Table is an in-memory routing table plus the document it came from.
type Table struct {
	section string
	raw     []byte
	doc     *yaml.Node
	entries []entry
	index   map[string]int
}

type routeValue struct {
	Path string `yaml:"path"`
	URL  string `yaml:"url"`
}

// Parse decodes a routing document. Empty input, a missing section or a missing
// routes mapping give an empty table.
func Parse(data []byte, section string) (*Table, error) {
	if section == "" {
		section = DefaultSection
	}
	t := &Table{section: section, raw: data, index: make(map[string]int)}

	var doc yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, domain.ConfigIOError("parse routing config", err)
		}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{newMapping()}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, domain.ConfigIOError("parse routing config", errors.New("document root is not a mapping"))
	}
	t.doc = &doc

	sec := lookup(root, section)
	if sec == nil || isNull(sec) {
		return t, nil
	}
	if sec.Kind != yaml.MappingNode {
		return nil, domain.ConfigIOError("parse routing config", fmt.Errorf("%s is not a mapping", section))
	}
	routes := lookup(sec, routesKey)
	if routes == nil || isNull(routes) {
		return t, nil
	}
	if routes.Kind != yaml.MappingNode {
		return nil, domain.ConfigIOError("parse routing config", fmt.Errorf("%s.%s is not a mapping", section, routesKey))
	}

	for i := 0; i+1 < len(routes.Content); i += 2 {
		key, val := routes.Content[i].Value, routes.Content[i+1]
		r := domain.Route{Key: key}
		if val.Kind == yaml.MappingNode {
			var v routeValue
			if err := val.Decode(&v); err != nil {
				return nil, domain.ConfigIOError("parse route "+key, err)
			}
			r.Path, r.URL = v.Path, v.URL
		} else {
			r.Tombstone = true
		}
		t.index[key] = len(t.entries)
		t.entries = append(t.entries, entry{route: r, node: val})
	}
	return t, nil
}

// Load reads and parses path. A missing file gives an empty table.
func Load(path, section string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, domain.ConfigIOError("read "+path, err)
	}
	return Parse(data, section)
}

// Routes returns the table's routes in document order.
func (t *Table) Routes() []domain.Route {
	out := make([]domain.Route, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.route)
	}
	return out
}

// Route returns the route stored under key.
func (t *Table) Route(key string) (domain.Route, bool) {
	i, ok := t.index[key]
	if !ok {
		return domain.Route{}, false
	}
	return t.entries[i].route, true
}

// AddRoute upserts the route sending serviceID/function to host:port.
func (t *Table) AddRoute(serviceID, function, host string, port int) domain.Route {
	r := domain.NewRoute(domain.Endpoint{ServiceID: serviceID, Function: function}, domain.Backend{Host: host, Port: port})
	t.Put(r)
	return r
}

// Put stores r under r.Key, overwriting an existing route in place.
func (t *Table) Put(r domain.Route) {
	r.Tombstone = false
	if i, ok := t.index[r.Key]; ok {
		if t.entries[i].route == r {
			return
		}
		t.entries[i] = entry{route: r}
		return
	}
	t.index[r.Key] = len(t.entries)
	t.entries = append(t.entries, entry{route: r})
}

// RemoveRoutesMatching deletes every route whose key contains substring and
// returns the removed keys.
func (t *Table) RemoveRoutesMatching(substring string) []string {
	if substring == "" {
		return nil
	}
	return t.removeWhere(func(r domain.Route) bool {
		return strings.Contains(r.Key, substring)
	})
}

// PutForPath stores r as the only live route serving r.Path. r takes the place
// of the first route it supersedes, so the path keeps its position in the
// table. It returns the keys of the routes r replaced and whether the table
// changed.
func (t *Table) PutForPath(r domain.Route) ([]string, bool) {
	r.Tombstone = false
	supersedes := func(o domain.Route) bool {
		return o.Key == r.Key || (!o.Tombstone && o.Path == r.Path)
	}
	pos := -1
	for i, e := range t.entries {
		if supersedes(e.route) {
			pos = i
			break
		}
	}
	if pos < 0 {
		t.Put(r)
		return nil, true
	}

	var replaced []string
	prev := t.entries[pos].route
	changed := prev != r
	if changed && prev.Key != r.Key {
		replaced = append(replaced, prev.Key)
	}
	kept := t.entries[:0]
	for i, e := range t.entries {
		switch {
		case i == pos:
			if prev != r {
				e = entry{route: r}
			}
		case supersedes(e.route):
			if e.route.Key != r.Key {
				replaced = append(replaced, e.route.Key)
			}
			changed = true
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	t.reindex()
	return replaced, changed
}

func (t *Table) removeWhere(match func(domain.Route) bool) []string {
	var removed []string
	kept := t.entries[:0]
	for _, e := range t.entries {
		if match(e.route) {
			removed = append(removed, e.route.Key)
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	t.reindex()
	return removed
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.entries))
	for i, e := range t.entries {
		t.index[e.route.Key] = i
	}
}

// References reports whether a live route's url targets host.
func (t *Table) References(host string) bool {
	for _, e := range t.entries {
		if e.route.Tombstone {
			continue
		}
		u, err := url.Parse(e.route.URL)
		if err == nil && u.Hostname() == host {
			return true
		}
	}
	return false
}

// Encode renders the document with the current routes.
func (t *Table) Encode() ([]byte, error) {
	if len(bytes.TrimSpace(t.raw)) == 0 {
		if len(t.entries) == 0 {
			return t.raw, nil
		}
		return []byte(t.sectionText(0, defaultIndent)), nil
	}

	lines := splitLines(t.raw)
	root := t.doc.Content[0]
	step := indentStep(root)
	secKey, sec := lookupPair(root, t.section)

	switch {
	case secKey == nil:
		if len(t.entries) == 0 {
			return t.raw, nil
		}
		at := len(lines) + 1
		return splice(lines, at, at, t.sectionText(0, step)), nil

	case isNull(sec) || (sec.Kind == yaml.MappingNode && len(sec.Content) == 0):
		if len(t.entries) == 0 {
			return t.raw, nil
		}
		return splice(lines, secKey.Line, secKey.Line+1, t.sectionText(secKey.Column-1, step)), nil

	case !isBlock(sec):
		return t.encodeTree()
	}

	indent := sec.Content[0].Column - 1
	if d := indent - (secKey.Column - 1); d > 0 {
		step = d
	}
	next := nextKeyLine(root, secKey)

	rKey, routes := lookupPair(sec, routesKey)
	if rKey == nil {
		if len(t.entries) == 0 {
			return t.raw, nil
		}
		at := blockEnd(lines, secKey.Line, next)
		return splice(lines, at, at, t.routesText(indent, step)), nil
	}

	end := blockEnd(lines, rKey.Line, nextKeyLine(sec, rKey), next)
	var b strings.Builder
	segments := map[string]string{}
	entryIndent := indent + step
	if isBlock(routes) {
		first := leadStart(lines, routes.Content[0].Line, rKey.Line)
		b.WriteString(joinLines(lines, rKey.Line, first))
		entryIndent = routes.Content[0].Column - 1
		for i := 0; i+1 < len(routes.Content); i += 2 {
			key := routes.Content[i]
			from := leadStart(lines, key.Line, rKey.Line)
			to := end
			if i+2 < len(routes.Content) {
				to = leadStart(lines, routes.Content[i+2].Line, key.Line)
			}
			segments[key.Value] = joinLines(lines, from, to)
		}
	} else {
		fmt.Fprintf(&b, "%s%s:\n", spaces(indent), routesKey)
	}

	for _, e := range t.entries {
		text, ok := segments[e.route.Key]
		if !ok || e.node == nil {
			text = renderRoute(e.route, entryIndent, step)
		}
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(text)
	}
	return splice(lines, rKey.Line, end, b.String()), nil
}

// encodeTree re-encodes the whole node tree. It is only used for sections
// written in flow style, which cannot be edited line by line.
func (t *Table) encodeTree() ([]byte, error) {
	root := t.doc.Content[0]
	sec := lookup(root, t.section)
	setKey(sec, routesKey, t.routesNode())

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(defaultIndent)
	if err := enc.Encode(t.doc); err != nil {
		return nil, domain.ConfigIOError("encode routing config", err)
	}
	if err := enc.Close(); err != nil {
		return nil, domain.ConfigIOError("encode routing config", err)
	}
	return buf.Bytes(), nil
}

func (t *Table) sectionText(indent, step int) string {
	return fmt.Sprintf("%s%s:\n", spaces(indent), scalarText(t.section)) + t.routesText(indent+step, step)
}

func (t *Table) routesText(indent, step int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s:\n", spaces(indent), routesKey)
	for _, e := range t.entries {
		b.WriteString(renderRoute(e.route, indent+step, step))
	}
	return b.String()
}

// Persist writes the full table to path atomically.
func (t *Table) Persist(path string) error {
	data, err := t.Encode()
	if err != nil {
		return err
	}
	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return filetx.WriteAtomic(path, data, perm)
}

func (t *Table) routesNode() *yaml.Node {
	m := newMapping()
	for _, e := range t.entries {
		val := e.node
		if val == nil {
			val = newMapping()
			val.Content = append(val.Content,
				scalar("path"), scalar(e.route.Path),
				scalar("url"), scalar(e.route.URL),
			)
		}
		m.Content = append(m.Content, scalar(e.route.Key), val)
	}
	return m
}

func renderRoute(r domain.Route, indent, step int) string {
	if r.Tombstone {
		return fmt.Sprintf("%s%s: \"\"\n", spaces(indent), scalarText(r.Key))
	}
	return fmt.Sprintf("%s%s:\n%s%s\n%s%s\n",
		spaces(indent), scalarText(r.Key),
		spaces(indent+step), "path: "+scalarText(r.Path),
		spaces(indent+step), "url: "+scalarText(r.URL),
	)
}

// scalarText renders s as a YAML scalar, quoting it only when needed.
func scalarText(s string) string {
	out, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Sprintf("%q", s)
	}
	return strings.TrimSuffix(string(out), "\n")
}

const defaultIndent = 2

// indentStep guesses the document's indentation from its first nested mapping.
func indentStep(root *yaml.Node) int {
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if isBlock(val) {
			if d := val.Content[0].Column - key.Column; d > 0 {
				return d
			}
		}
	}
	return defaultIndent
}

func isBlock(n *yaml.Node) bool {
	return n != nil && n.Kind == yaml.MappingNode && n.Style&yaml.FlowStyle == 0 && len(n.Content) > 0
}

// splitLines splits data after every newline; lines[i] is line i+1.
func splitLines(data []byte) []string {
	lines := strings.SplitAfter(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// joinLines returns lines [from, to), counted from 1.
func joinLines(lines []string, from, to int) string {
	if to > len(lines)+1 {
		to = len(lines) + 1
	}
	if from >= to {
		return ""
	}
	return strings.Join(lines[from-1:to-1], "")
}

// splice replaces lines [from, to) with text.
func splice(lines []string, from, to int, text string) []byte {
	head := joinLines(lines, 1, from)
	if head != "" && !strings.HasSuffix(head, "\n") {
		head += "\n"
	}
	return []byte(head + text + joinLines(lines, to, len(lines)+1))
}

// blockEnd returns the line after the block starting at start: the first
// non-zero candidate (the line of the next key) or the end of the file, moved
// up over blank and comment lines so they stay outside the block.
func blockEnd(lines []string, start int, candidates ...int) int {
	end := len(lines) + 1
	for _, c := range candidates {
		if c > 0 {
			end = c
			break
		}
	}
	for end-1 > start && trivia(lines[end-2]) {
		end--
	}
	return end
}

// leadStart moves from a key's line up over the comment lines directly above
// it, staying below floor.
func leadStart(lines []string, line, floor int) int {
	for line-1 > floor && strings.HasPrefix(strings.TrimSpace(lines[line-2]), "#") {
		line--
	}
	return line
}

func trivia(line string) bool {
	s := strings.TrimSpace(line)
	return s == "" || strings.HasPrefix(s, "#")
}

func nextKeyLine(m, key *yaml.Node) int {
	for i := 0; i+2 < len(m.Content); i += 2 {
		if m.Content[i] == key {
			return m.Content[i+2].Line
		}
	}
	return 0
}

func spaces(n int) string { return strings.Repeat(" ", n) }

func lookupPair(m *yaml.Node, key string) (*yaml.Node, *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i], m.Content[i+1]
		}
	}
	return nil, nil
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setKey(m *yaml.Node, key string, val *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = val
			return
		}
	}
	m.Content = append(m.Content, scalar(key), val)
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || n.Value == "")
}

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}
