// Package upstream edits a text-configured reverse proxy (nginx) in place.
//
// Edits are anchored text rules applied to the whole file: there is no
// structural parse, and nothing is kept in memory between calls.
package upstream

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
)

var (
	serverBlockRe = regexp.MustCompile(`(?m)^([ \t]*)server[ \t]*\{`)
	upstreamRe    = regexp.MustCompile(`(?m)^[ \t]*upstream[ \t]+([^\s{]+)[ \t]*\{([^}]*)\}`)
	serverLineRe  = regexp.MustCompile(`server[ \t]+([^;\s]+)[ \t]*;`)
	serverEntryRe = regexp.MustCompile(`server[ \t]+[^;\s]`)
	nameRe        = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
)

// AddGroup inserts an upstream block right before the first server block,
// indented like that block.
func AddGroup(conf, name string, servers []string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", domain.ValidationError("add upstream "+name, errors.New("no servers"))
	}
	for _, s := range servers {
		if err := checkName(s); err != nil {
			return "", err
		}
	}
	if _, ok := findGroup(conf, name); ok {
		return "", domain.ValidationError("add upstream "+name, errors.New("group already exists"))
	}

	loc := serverBlockRe.FindStringSubmatchIndex(conf)
	if loc == nil {
		return "", domain.ValidationError("add upstream "+name, domain.ErrNoServerBlock)
	}
	indent := conf[loc[2]:loc[3]]

	var b strings.Builder
	b.WriteString(conf[:loc[0]])
	fmt.Fprintf(&b, "%supstream %s {\n", indent, name)
	for _, s := range servers {
		fmt.Fprintf(&b, "%s    server %s;\n", indent, s)
	}
	fmt.Fprintf(&b, "%s}\n\n", indent)
	b.WriteString(conf[loc[0]:])
	return b.String(), nil
}

// RemoveGroup deletes the upstream block of name together with the blank line
// that follows it, and points its proxy_pass directives at replacement.
func RemoveGroup(conf, name, replacement string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if err := checkName(replacement); err != nil {
		return "", err
	}
	re := regexp.MustCompile(`(?m)^[ \t]*upstream[ \t]+` + regexp.QuoteMeta(name) + `[ \t]*\{[^}]*\}[ \t]*\n(?:[ \t]*\n)?`)
	out := re.ReplaceAllLiteralString(conf, "")
	out, _ = ReplaceProxyPass(out, name, replacement)
	return out, nil
}

// ReplaceProxyPass rewrites every "proxy_pass http://<match>;" to the
// replacement and returns how many directives changed.
func ReplaceProxyPass(conf, match, replacement string) (string, int) {
	re := proxyPassRe(regexp.QuoteMeta(match))
	n := len(re.FindAllStringIndex(conf, -1))
	if n == 0 {
		return conf, 0
	}
	return re.ReplaceAllLiteralString(conf, "proxy_pass http://"+replacement+";"), n
}

// ReplaceHostProxyPass rewrites proxy_pass directives aimed at host on any port.
func ReplaceHostProxyPass(conf, host, replacement string) (string, int) {
	re := proxyPassRe(regexp.QuoteMeta(host) + `(?::\d+)?`)
	n := len(re.FindAllStringIndex(conf, -1))
	if n == 0 {
		return conf, 0
	}
	return re.ReplaceAllLiteralString(conf, "proxy_pass http://"+replacement+";"), n
}

// RemoveHostServers drops the server entries for host, on any port, from every
// upstream block. A block that would be left without servers is an error and
// conf is returned unchanged.
func RemoveHostServers(conf, host string) (string, int, error) {
	target := regexp.QuoteMeta(host) + `(?::\d+)?(?:[ \t]+[^;{}\n]*)?;`
	wholeLine := regexp.MustCompile(`(?m)^[ \t]*server[ \t]+` + target + `[ \t]*\n`)
	inline := regexp.MustCompile(`[ \t]*server[ \t]+` + target)

	blocks := upstreamRe.FindAllStringSubmatchIndex(conf, -1)
	removed := 0
	out := conf
	for i := len(blocks) - 1; i >= 0; i-- {
		m := blocks[i]
		body := out[m[4]:m[5]]
		n := len(inline.FindAllStringIndex(body, -1))
		if n == 0 {
			continue
		}
		body = inline.ReplaceAllLiteralString(wholeLine.ReplaceAllLiteralString(body, ""), "")
		if !serverEntryRe.MatchString(body) {
			name := out[m[2]:m[3]]
			return conf, 0, domain.ValidationError("purge "+host,
				fmt.Errorf("upstream %s would be left without servers", name))
		}
		out = out[:m[4]] + body + out[m[5]:]
		removed += n
	}
	return out, removed, nil
}

// Groups lists the upstream blocks of conf in file order.
func Groups(conf string) []domain.UpstreamGroup {
	var groups []domain.UpstreamGroup
	for _, m := range upstreamRe.FindAllStringSubmatch(conf, -1) {
		g := domain.UpstreamGroup{Name: m[1]}
		for _, s := range serverLineRe.FindAllStringSubmatch(m[2], -1) {
			g.Servers = append(g.Servers, s[1])
		}
		groups = append(groups, g)
	}
	return groups
}

// References reports whether a proxy_pass or an upstream server targets host.
func References(conf, host string) bool {
	target := regexp.QuoteMeta(host) + `(?::\d+)?`
	if proxyPassRe(target).MatchString(conf) {
		return true
	}
	for _, g := range Groups(conf) {
		for _, s := range g.Servers {
			if s == host || strings.HasPrefix(s, host+":") {
				return true
			}
		}
	}
	return false
}

// Validate is a minimal syntax check: braces must balance outside comments
// and quoted strings.
func Validate(conf string) error {
	depth := 0
	inComment := false
	var quote rune
	for _, r := range conf {
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
			}
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '#':
			inComment = true
		case r == '"' || r == '\'':
			quote = r
		case r == '{':
			depth++
		case r == '}':
			depth--
			if depth < 0 {
				return errors.New("unexpected '}'")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%d unclosed block(s)", depth)
	}
	return nil
}

func findGroup(conf, name string) (domain.UpstreamGroup, bool) {
	for _, g := range Groups(conf) {
		if g.Name == name {
			return g, true
		}
	}
	return domain.UpstreamGroup{}, false
}

func proxyPassRe(target string) *regexp.Regexp {
	return regexp.MustCompile(`proxy_pass\s+http://` + target + `;`)
}

func checkName(s string) error {
	if !nameRe.MatchString(s) {
		return domain.ValidationError("upstream name", fmt.Errorf("invalid name or address %q", s))
	}
	return nil
}
