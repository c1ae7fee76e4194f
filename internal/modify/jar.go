package modify

import (
	"net/http"
	"strings"
)

// Jar maps cookie names to a single cookie. Adding a name that already
// exists overwrites it in place; iteration follows first insertion order.
// Cookies are written back as name=value with the value as received; no
// quoting is added.
type Jar struct {
	names   []string
	cookies map[string]*http.Cookie
	// raw Set-Cookie lines of cookies nothing has replaced since parsing.
	raw map[string]string
}

func NewJar() *Jar {
	return &Jar{
		cookies: make(map[string]*http.Cookie),
		raw:     make(map[string]string),
	}
}

// ParseCookieHeader builds a jar from a Cookie header line. Segments are
// separated by "; " and malformed ones are dropped.
func ParseCookieHeader(line string) *Jar {
	j := NewJar()
	j.AddCookieHeader(line)
	return j
}

func (j *Jar) AddCookieHeader(line string) {
	for _, segment := range strings.Split(line, "; ") {
		if c, err := http.ParseSetCookie(segment); err == nil {
			j.Add(&http.Cookie{Name: c.Name, Value: c.Value, Quoted: c.Quoted})
		}
	}
}

// AddSetCookie parses one Set-Cookie header value, attributes included.
// It reports whether the line was usable.
func (j *Jar) AddSetCookie(line string) bool {
	c, err := http.ParseSetCookie(line)
	if err != nil {
		return false
	}
	j.Add(c)
	j.raw[c.Name] = strings.TrimSpace(line)
	return true
}

func (j *Jar) Add(c *http.Cookie) {
	if _, ok := j.cookies[c.Name]; !ok {
		j.names = append(j.names, c.Name)
	}
	j.cookies[c.Name] = c
	delete(j.raw, c.Name)
}

func (j *Jar) Get(name string) (*http.Cookie, bool) {
	c, ok := j.cookies[name]
	return c, ok
}

func (j *Jar) Remove(name string) {
	if _, ok := j.cookies[name]; !ok {
		return
	}
	delete(j.cookies, name)
	delete(j.raw, name)
	for i, n := range j.names {
		if n == name {
			j.names = append(j.names[:i], j.names[i+1:]...)
			break
		}
	}
}

func (j *Jar) Len() int {
	return len(j.names)
}

func (j *Jar) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(j.names))
	for _, n := range j.names {
		out = append(out, j.cookies[n])
	}
	return out
}

// CookieHeader serializes the jar as a Cookie request header value.
func (j *Jar) CookieHeader() string {
	pairs := make([]string, 0, len(j.names))
	for _, c := range j.Cookies() {
		pairs = append(pairs, cookiePair(c))
	}
	return strings.Join(pairs, "; ")
}

// SetCookieHeaders serializes every cookie as its own Set-Cookie value. A
// cookie still holding its parsed line is emitted byte for byte.
func (j *Jar) SetCookieHeaders() []string {
	lines := make([]string, 0, len(j.names))
	for _, c := range j.Cookies() {
		if line, ok := j.raw[c.Name]; ok {
			lines = append(lines, line)
			continue
		}
		lines = append(lines, cookiePair(c)+cookieAttributes(c))
	}
	return lines
}

func cookiePair(c *http.Cookie) string {
	if c.Quoted {
		return c.Name + `="` + c.Value + `"`
	}
	return c.Name + "=" + c.Value
}

// cookieAttributes renders the "; Path=/; ..." suffix of c, or "" when c
// carries no attributes.
func cookieAttributes(c *http.Cookie) string {
	attrs := *c
	attrs.Value = ""
	attrs.Quoted = false
	line := attrs.String()
	return strings.TrimPrefix(line, c.Name+"=")
}
