// Package format serializes subscriber envelopes into the requested
// output format. TOON is the token-dense default; any value TOON or a
// niche format cannot represent falls back to JSON, which is always
// safe.
package format

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/contex-io/contex/pkg/models"
)

// Serialize renders v in the requested format. The result is always
// usable: formats that cannot represent v degrade to JSON.
func Serialize(v any, f models.OutputFormat) ([]byte, error) {
	switch f {
	case models.FormatJSON, "":
		return marshalJSON(v)
	case models.FormatTOON:
		out, err := EncodeTOON(v)
		if err != nil {
			log.Debug().Err(err).Msg("TOON encode failed, falling back to JSON")
			return marshalJSON(v)
		}
		return []byte(out), nil
	case models.FormatYAML:
		return yaml.Marshal(normalize(v))
	case models.FormatTOML:
		// TOML documents are tables at the root; anything else degrades
		// to JSON.
		out, err := toml.Marshal(normalize(v))
		if err != nil {
			log.Debug().Err(err).Msg("TOML encode failed, falling back to JSON")
			return marshalJSON(v)
		}
		return out, nil
	case models.FormatCSV:
		out, err := encodeCSV(v)
		if err != nil {
			return marshalJSON(v)
		}
		return out, nil
	case models.FormatXML:
		return encodeXML(v), nil
	case models.FormatMarkdown:
		return encodeMarkdown(v), nil
	case models.FormatText:
		return []byte(renderText(v)), nil
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", models.ErrValidation, f)
	}
}

func marshalJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// normalize round-trips v through JSON so struct envelopes serialize
// under their wire field names in every format.
func normalize(v any) any {
	switch v.(type) {
	case map[string]any, []any, string, float64, bool, nil:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// ── TOON ────────────────────────────────────────────────────

// EncodeTOON renders v in TOON: "key: value" lines with 2-space
// indentation, and arrays of uniform flat objects as tabular blocks
//
//	key[2]{name,role}:
//	  Alice,Engineer
//	  Bob,Manager
//
// which spends far fewer tokens than JSON on repeated field names.
func EncodeTOON(v any) (string, error) {
	var b strings.Builder
	if err := encodeTOONValue(&b, normalize(v), "", 0); err != nil {
		return "", err
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func encodeTOONValue(b *strings.Builder, v any, key string, depth int) error {
	indent := strings.Repeat("  ", depth)

	switch t := v.(type) {
	case map[string]any:
		if key != "" {
			fmt.Fprintf(b, "%s%s:\n", indent, key)
			depth++
			indent = strings.Repeat("  ", depth)
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encodeTOONValue(b, t[k], k, depth); err != nil {
				return err
			}
		}
		return nil

	case []any:
		name := key
		if name == "" {
			name = "items"
		}
		if fields, ok := uniformFields(t); ok {
			fmt.Fprintf(b, "%s%s[%d]{%s}:\n", indent, name, len(t), strings.Join(fields, ","))
			row := strings.Repeat("  ", depth+1)
			for _, elem := range t {
				m := elem.(map[string]any)
				cells := make([]string, len(fields))
				for i, f := range fields {
					cells[i] = toonScalar(m[f])
				}
				fmt.Fprintf(b, "%s%s\n", row, strings.Join(cells, ","))
			}
			return nil
		}
		if allScalars(t) {
			cells := make([]string, len(t))
			for i, elem := range t {
				cells[i] = toonScalar(elem)
			}
			fmt.Fprintf(b, "%s%s[%d]: %s\n", indent, name, len(t), strings.Join(cells, ","))
			return nil
		}
		// Mixed or nested arrays don't fit the tabular form.
		return fmt.Errorf("toon: array %q is not uniform", name)

	case string, float64, bool, nil, int, int64:
		if key == "" {
			fmt.Fprintf(b, "%s%s\n", indent, toonScalar(t))
		} else {
			fmt.Fprintf(b, "%s%s: %s\n", indent, key, toonScalar(t))
		}
		return nil

	default:
		return fmt.Errorf("toon: unsupported value type %T", v)
	}
}

// uniformFields reports the shared field set when every element is a
// flat object with identical keys.
func uniformFields(list []any) ([]string, bool) {
	if len(list) == 0 {
		return nil, false
	}
	var fields []string
	for i, elem := range list {
		m, ok := elem.(map[string]any)
		if !ok {
			return nil, false
		}
		keys := make([]string, 0, len(m))
		for k, val := range m {
			switch val.(type) {
			case map[string]any, []any:
				return nil, false
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if i == 0 {
			fields = keys
			continue
		}
		if len(keys) != len(fields) {
			return nil, false
		}
		for j := range keys {
			if keys[j] != fields[j] {
				return nil, false
			}
		}
	}
	return fields, true
}

func allScalars(list []any) bool {
	for _, elem := range list {
		switch elem.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

func toonScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		if strings.ContainsAny(t, ",\n") {
			return fmt.Sprintf("%q", t)
		}
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ── CSV ─────────────────────────────────────────────────────

// encodeCSV renders an array of flat objects as a CSV document.
func encodeCSV(v any) ([]byte, error) {
	list, ok := normalize(v).([]any)
	if !ok {
		return nil, fmt.Errorf("csv: value is not an array")
	}
	fields, ok := uniformFields(list)
	if !ok {
		return nil, fmt.Errorf("csv: array is not uniform")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	for _, elem := range list {
		m := elem.(map[string]any)
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = renderText(m[f])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ── XML ─────────────────────────────────────────────────────

func encodeXML(v any) []byte {
	var b strings.Builder
	b.WriteString("<context>")
	writeXMLValue(&b, normalize(v))
	b.WriteString("</context>")
	return []byte(b.String())
}

func writeXMLValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tag := xmlTag(k)
			fmt.Fprintf(b, "<%s>", tag)
			writeXMLValue(b, t[k])
			fmt.Fprintf(b, "</%s>", tag)
		}
	case []any:
		for _, elem := range t {
			b.WriteString("<item>")
			writeXMLValue(b, elem)
			b.WriteString("</item>")
		}
	default:
		b.WriteString(xmlEscape(renderText(t)))
	}
}

func xmlTag(k string) string {
	tag := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, k)
	if tag == "" || (tag[0] >= '0' && tag[0] <= '9') {
		tag = "f_" + tag
	}
	return tag
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// ── Markdown and text ───────────────────────────────────────

func encodeMarkdown(v any) []byte {
	var b strings.Builder
	writeMarkdownValue(&b, normalize(v), 0)
	return []byte(strings.TrimRight(b.String(), "\n"))
}

func writeMarkdownValue(b *strings.Builder, v any, depth int) {
	indent := strings.Repeat("  ", depth)
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch t[k].(type) {
			case map[string]any, []any:
				fmt.Fprintf(b, "%s- **%s**:\n", indent, k)
				writeMarkdownValue(b, t[k], depth+1)
			default:
				fmt.Fprintf(b, "%s- **%s**: %s\n", indent, k, renderText(t[k]))
			}
		}
	case []any:
		for _, elem := range t {
			switch elem.(type) {
			case map[string]any, []any:
				fmt.Fprintf(b, "%s-\n", indent)
				writeMarkdownValue(b, elem, depth+1)
			default:
				fmt.Fprintf(b, "%s- %s\n", indent, renderText(elem))
			}
		}
	default:
		fmt.Fprintf(b, "%s%s\n", indent, renderText(t))
	}
}

func renderText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", t)
	}
}
