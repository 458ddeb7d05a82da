package tools

import (
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"
)

// ToolCall is one invocation parsed from LLM output.
type ToolCall struct {
	Name   string
	Params map[string]any

	// Raw is the matched <tool_call> block as it appeared in the
	// source text, kept for transcript reconstruction.
	Raw string
}

var (
	toolCallPattern = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
	itemPattern     = regexp.MustCompile(`(?s)<item>(.*?)</item>`)
	openTagPattern  = regexp.MustCompile(`<([A-Za-z_][A-Za-z0-9_-]*)>`)
	intPattern      = regexp.MustCompile(`^-?\d+$`)
	floatPattern    = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// ParseToolCall scans free-form LLM output and returns the first
// well-formed tool call, or nil when none is present. Each candidate
// block gets a strict XML pass first and a lenient regex pass when the
// model's XML is malformed. A block without a name yields no call and
// scanning continues.
func ParseToolCall(text string) *ToolCall {
	for _, m := range toolCallPattern.FindAllStringSubmatch(text, -1) {
		if call := parseStrict(m[0]); call != nil {
			call.Raw = m[0]
			return call
		}
		if call := parseLenient(m[1]); call != nil {
			call.Raw = m[0]
			return call
		}
	}
	return nil
}

type xmlToolCall struct {
	XMLName xml.Name   `xml:"tool_call"`
	Name    string     `xml:"name"`
	Params  *xmlParams `xml:"params"`
}

type xmlParams struct {
	Elems []xmlParam `xml:",any"`
}

// xmlParam keeps the raw inner source so CDATA boundaries survive the
// decoder; parseValue interprets them.
type xmlParam struct {
	XMLName xml.Name
	Inner   string `xml:",innerxml"`
}

func parseStrict(block string) *ToolCall {
	var call xmlToolCall
	if err := xml.Unmarshal([]byte(block), &call); err != nil {
		return nil
	}
	name := strings.TrimSpace(call.Name)
	if name == "" {
		return nil
	}
	params := map[string]any{}
	if call.Params != nil {
		for _, p := range call.Params.Elems {
			params[p.XMLName.Local] = parseValue(p.Inner)
		}
	}
	return &ToolCall{Name: name, Params: params}
}

// parseLenient recovers calls from blocks strict XML rejects, such as
// values with unescaped ampersands.
func parseLenient(inner string) *ToolCall {
	rawName, ok := firstRegion(inner, "name")
	if !ok {
		return nil
	}
	name := strings.TrimSpace(unwrapValue(rawName))
	if name == "" {
		return nil
	}
	call := &ToolCall{Name: name, Params: map[string]any{}}
	if region, ok := outerRegion(inner, "params"); ok {
		call.Params = lenientParams(region)
	}
	return call
}

// lenientParams walks the params region pairing each opening tag with
// its nearest close tag. Unclosed elements are skipped.
func lenientParams(region string) map[string]any {
	params := map[string]any{}
	for {
		loc := openTagPattern.FindStringSubmatchIndex(region)
		if loc == nil {
			return params
		}
		name := region[loc[2]:loc[3]]
		rest := region[loc[1]:]
		closing := "</" + name + ">"
		end := strings.Index(rest, closing)
		if end < 0 {
			region = rest
			continue
		}
		params[name] = parseValue(rest[:end])
		region = rest[end+len(closing):]
	}
}

// firstRegion returns the text between the first <tag> and the next
// </tag> after it.
func firstRegion(s, tag string) (string, bool) {
	open, closing := "<"+tag+">", "</"+tag+">"
	i := strings.Index(s, open)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(open):]
	j := strings.Index(rest, closing)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// outerRegion returns the text between the first <tag> and the last
// </tag>, so parameter values may themselves contain markup.
func outerRegion(s, tag string) (string, bool) {
	open, closing := "<"+tag+">", "</"+tag+">"
	i := strings.Index(s, open)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(open):]
	j := strings.LastIndex(rest, closing)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// parseValue interprets one parameter element's inner source text:
// nested <item> children become a list, anything else is a scalar. A
// CDATA-wrapped value is always a scalar even when it mentions <item>.
func parseValue(inner string) any {
	if isCDATA(strings.TrimSpace(inner)) {
		return coerceScalar(unwrapValue(inner))
	}
	if items := itemPattern.FindAllStringSubmatch(inner, -1); len(items) > 0 {
		list := make([]any, 0, len(items))
		for _, m := range items {
			list = append(list, coerceScalar(unwrapValue(m[1])))
		}
		return list
	}
	return coerceScalar(unwrapValue(inner))
}

const (
	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"
)

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func isCDATA(s string) bool {
	return strings.HasPrefix(s, cdataOpen) && strings.HasSuffix(s, cdataClose) &&
		len(s) >= len(cdataOpen)+len(cdataClose)
}

// unwrapValue returns CDATA content verbatim, preserving significant
// whitespace. Plain text is trimmed and entity-decoded.
func unwrapValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if isCDATA(trimmed) {
		return trimmed[len(cdataOpen) : len(trimmed)-len(cdataClose)]
	}
	return entityReplacer.Replace(trimmed)
}

// coerceScalar maps boolean and numeric literals to typed values so
// schema validation sees canonical JSON types.
func coerceScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if intPattern.MatchString(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	if floatPattern.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
