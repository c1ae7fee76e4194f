package modify

import (
	"net/http"

	"golang.org/x/net/http/httpguts"

	"github.com/sunbk201/httpmod/internal/metrics"
)

const (
	headerCookie    = "Cookie"
	headerSetCookie = "Set-Cookie"
)

// modifyRequestCookies rewrites the Cookie header through a single jar.
// Cookies no entry touches survive the round trip.
func modifyRequestCookies(h http.Header, entries []MapModify) {
	jar := NewJar()
	for _, line := range h.Values(headerCookie) {
		jar.AddCookieHeader(line)
	}

	applyCookieEntries(entries, jar)
	writeCookieHeader(h, jar)
}

// modifyResponseCookies keeps the Cookie header (what the client already
// holds) and the Set-Cookie headers (what the server sets) consistent: every
// change lands in both jars. Set-Cookie is re-emitted from scratch, one
// header per cookie.
func modifyResponseCookies(h http.Header, entries []MapModify) {
	stated := NewJar()
	for _, line := range h.Values(headerCookie) {
		stated.AddCookieHeader(line)
	}
	requested := NewJar()
	for _, line := range h.Values(headerSetCookie) {
		requested.AddSetCookie(line)
	}

	applyCookieEntries(entries, stated, requested)
	writeCookieHeader(h, stated)

	h.Del(headerSetCookie)
	for _, line := range requested.SetCookieHeaders() {
		h.Add(headerSetCookie, line)
	}
}

// applyCookieEntries runs entries against jars. The current value of a
// cookie comes from the first jar holding it; the result is written to all.
func applyCookieEntries(entries []MapModify, jars ...*Jar) {
	for _, e := range entries {
		if e.Remove {
			for _, j := range jars {
				j.Remove(e.Key)
			}
			continue
		}
		if e.Value == nil {
			continue
		}
		if !validCookieName(e.Key) {
			skipEntry(KindCookies, e.Key, metrics.ReasonInvalidName)
			continue
		}

		current := ""
		for _, j := range jars {
			if c, ok := j.Get(e.Key); ok {
				current = c.Value
				break
			}
		}
		value := e.Value.Exec(current)
		if !validCookieValue(value) {
			skipEntry(KindCookies, e.Key, metrics.ReasonInvalidValue)
			continue
		}
		for _, j := range jars {
			j.Add(&http.Cookie{Name: e.Key, Value: value})
		}
	}
}

func writeCookieHeader(h http.Header, jar *Jar) {
	if jar.Len() == 0 {
		h.Del(headerCookie)
		return
	}
	h.Set(headerCookie, jar.CookieHeader())
}

func validCookieName(name string) bool {
	return name != "" && httpguts.ValidHeaderFieldName(name)
}

func validCookieValue(value string) bool {
	for i := 0; i < len(value); i++ {
		b := value[i]
		if b < 0x20 || b >= 0x7f || b == '"' || b == ';' || b == '\\' {
			return false
		}
	}
	return true
}
