package configfile

import (
	"bytes"
	"strings"
)

// line is one physical line of a KEY=VALUE file. Raw is kept verbatim and
// only regenerated when Set touches the line.
type line struct {
	raw   string
	key   string // empty for comments, blanks and unparseable lines
	value string
}

// Document is a parsed KEY=VALUE file that re-serializes byte-for-byte.
type Document struct {
	lines []line
}

// Parse splits data on '\n'. Every byte, including comments, blank lines,
// unknown keys, CR line endings and a missing final newline, survives Bytes().
func Parse(data []byte) *Document {
	parts := strings.Split(string(data), "\n")
	doc := &Document{lines: make([]line, len(parts))}
	for i, p := range parts {
		doc.lines[i] = parseLine(p)
	}
	return doc
}

func parseLine(raw string) line {
	l := line{raw: raw}
	body := strings.TrimSuffix(raw, "\r")
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return l
	}
	trimmed = strings.TrimPrefix(trimmed, "export ")
	k, v, ok := strings.Cut(trimmed, "=")
	if !ok {
		return l
	}
	l.key = strings.TrimSpace(k)
	l.value = unquote(strings.TrimSpace(v))
	return l
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// Get returns the value of the last occurrence of key.
func (d *Document) Get(key string) (string, bool) {
	for i := len(d.lines) - 1; i >= 0; i-- {
		if d.lines[i].key == key {
			return d.lines[i].value, true
		}
	}
	return "", false
}

// Keys returns every key in file order, duplicates included.
func (d *Document) Keys() []string {
	var keys []string
	for _, l := range d.lines {
		if l.key != "" {
			keys = append(keys, l.key)
		}
	}
	return keys
}

// set rewrites every occurrence of key, or appends it when absent.
// Callers enforce the allow-list.
func (d *Document) set(key, value string) {
	found := false
	for i, l := range d.lines {
		if l.key != key {
			continue
		}
		found = true
		if l.value == value {
			continue
		}
		eol := ""
		if strings.HasSuffix(l.raw, "\r") {
			eol = "\r"
		}
		d.lines[i] = line{raw: key + "=" + value + eol, key: key, value: value}
	}
	if found {
		return
	}

	appended := line{raw: key + "=" + value, key: key, value: value}
	n := len(d.lines)
	// Keep a trailing newline trailing: insert before the final empty piece.
	if n > 0 && d.lines[n-1].raw == "" {
		if n == 1 {
			d.lines = []line{appended, {raw: ""}}
			return
		}
		d.lines = append(d.lines[:n-1], appended, line{raw: ""})
		return
	}
	d.lines = append(d.lines, appended)
}

// Bytes serializes the document.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	for i, l := range d.lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(l.raw)
	}
	return buf.Bytes()
}
