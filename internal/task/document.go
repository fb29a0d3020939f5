package task

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	frontMatterFence  = "---"
	checklistHeading  = "## Suggested Actions"
	uncheckedItemMark = "- [ ] "
	checkedItemMark   = "- [x] "
)

// ParseDocument splits a task document into its metadata block and body.
// Documents that do not open with a `---` fence are returned as body only;
// humans are allowed to drop plain notes into the state folders.
func ParseDocument(content []byte) (Document, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte(frontMatterFence+"\n")) {
		return Document{Body: string(normalized)}, nil
	}
	rest := normalized[len(frontMatterFence)+1:]

	var metaBytes, body []byte
	switch {
	case bytes.HasPrefix(rest, []byte(frontMatterFence+"\n")):
		body = rest[len(frontMatterFence)+1:]
	default:
		parts := bytes.SplitN(rest, []byte("\n"+frontMatterFence+"\n"), 2)
		if len(parts) < 2 {
			if !bytes.HasSuffix(rest, []byte("\n"+frontMatterFence)) {
				return Document{}, ErrMalformedFrontMatter
			}
			parts = [][]byte{bytes.TrimSuffix(rest, []byte("\n"+frontMatterFence)), nil}
		}
		metaBytes, body = parts[0], parts[1]
	}

	var meta Metadata
	if err := yaml.Unmarshal(metaBytes, &meta); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	return Document{
		Meta:           meta,
		Body:           strings.TrimPrefix(string(body), "\n"),
		HasFrontMatter: true,
	}, nil
}

// Render serialises the document back to its on-disk form.
func (d Document) Render() ([]byte, error) {
	if !d.HasFrontMatter {
		return []byte(d.Body), nil
	}
	data, err := yaml.Marshal(d.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(frontMatterFence + "\n")
	if meta := bytes.TrimRight(data, "\n"); len(meta) > 0 && string(meta) != "{}" {
		buf.Write(meta)
		buf.WriteString("\n")
	}
	buf.WriteString(frontMatterFence + "\n\n")
	buf.WriteString(d.Body)
	return buf.Bytes(), nil
}

// Field returns an origin-specific metadata value rendered as text.
func (m Metadata) Field(key string) string {
	v, ok := m.Fields[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Checklist returns the suggested next actions of the document: every
// checkbox item, checked or not, in order of appearance.
func (d Document) Checklist() []string {
	var items []string
	scanner := bufio.NewScanner(strings.NewReader(d.Body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, uncheckedItemMark):
			items = append(items, strings.TrimPrefix(line, uncheckedItemMark))
		case strings.HasPrefix(strings.ToLower(line), checkedItemMark):
			items = append(items, line[len(checkedItemMark):])
		}
	}
	return items
}

// ChecklistSection renders items as an unchecked "Suggested Actions" section.
func ChecklistSection(items []string) string {
	var b strings.Builder
	b.WriteString(checklistHeading + "\n\n")
	for _, item := range items {
		b.WriteString(uncheckedItemMark + item + "\n")
	}
	return b.String()
}

// NewDocument builds a document with front matter, filling in the default
// priority and status when empty.
func NewDocument(meta Metadata, body string) Document {
	if meta.Priority == "" {
		meta.Priority = defaultPriority
	}
	if meta.Status == "" {
		meta.Status = defaultStatus
	}
	return Document{Meta: meta, Body: body, HasFrontMatter: true}
}
