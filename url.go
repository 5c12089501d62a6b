package xembed

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// BuildExperienceURL appends the transformed content query, the context id
// and the discriminator to base, then an optional #p.<name>=<value> block.
func BuildExperienceURL(base string, query url.Values, contextID string, discriminator int, parameters map[string][]string) string {
	var b strings.Builder
	b.WriteString(base)

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	b.WriteString(sep)
	if encoded := query.Encode(); encoded != "" {
		b.WriteString(encoded)
		b.WriteString("&")
	}
	b.WriteString("contextId=")
	b.WriteString(url.QueryEscape(contextID))
	b.WriteString("&discriminator=")
	b.WriteString(strconv.Itoa(discriminator))

	if len(parameters) > 0 {
		b.WriteString("#")
		b.WriteString(encodeParameters(parameters))
	}
	return b.String()
}

// encodeParameters renders parameters as p.<name>=<value> pairs, repeating
// the pair for every value of a multi-valued parameter.
func encodeParameters(parameters map[string][]string) string {
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(parameters))
	for _, name := range names {
		for _, v := range parameters[name] {
			pairs = append(pairs, "p."+escapeComponent(name)+"="+escapeComponent(v))
		}
	}
	return strings.Join(pairs, "&")
}

// escapeComponent escapes s as a single URI component: separators such as
// '&', '=' and '+' are encoded and a space becomes %20.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

var embedURLPattern = regexp.MustCompile(`^https://([^/?#]+)/(embedding|embed)/([^/?#]+)/[^?#]*(\?[^#]*)?`)

// ControlURL derives the control surface URL from an experience URL of the
// form https://<host>/(embedding|embed)/<sessionId>/...?<query>.
func ControlURL(experienceURL, contextID string) (string, error) {
	m := embedURLPattern.FindStringSubmatch(experienceURL)
	if m == nil {
		return "", ErrInvalidExperienceURL
	}
	host, sessionID, query := m[1], m[3], strings.TrimPrefix(m[4], "?")

	u := "https://" + host + "/embedding/" + sessionID + "/control?"
	if query != "" {
		u += query + "&"
	}
	return u + "contextId=" + url.QueryEscape(contextID), nil
}

// OriginOf returns scheme://host of raw, or "" when raw is not absolute.
func OriginOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// baseURL strips query and fragment from raw.
func baseURL(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// descriptorFromURL reads the discriminating attributes of an experience
// from its URL path.
func descriptorFromURL(kind ExperienceType, raw string) Descriptor {
	d := Descriptor{ExperienceType: kind}
	u, err := url.Parse(raw)
	if err != nil {
		return d
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(segs); i++ {
		switch segs[i] {
		case "dashboards":
			if d.DashboardID == "" {
				d.DashboardID = segs[i+1]
			}
		case "sheets":
			d.SheetID = segs[i+1]
		case "visuals":
			d.VisualID = segs[i+1]
		}
	}
	return d
}
