package onvif

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
)

// parseDocument parses a SOAP reply. Element lookups on the returned
// document ignore namespace prefixes, which vary between vendors.
func parseDocument(resp []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if err := doc.ReadFromBytes(resp); err != nil {
		return nil, malformedf(err, "invalid XML")
	}
	if doc.Root() == nil {
		return nil, malformedf(nil, "empty document")
	}
	return doc, nil
}

// elementText returns the trimmed text of the element at path, or ""
func elementText(e *etree.Element, path string) string {
	if c := e.FindElement(path); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z0700",
}

// parseTime parses an xsd:dateTime. Values without a zone are taken as UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// formatDuration renders d as a relative xsd:duration such as PT24H
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	d = d.Round(time.Second)

	var b strings.Builder
	b.WriteString("PT")
	if h := d / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dH", h)
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		fmt.Fprintf(&b, "%dM", m)
		d -= m * time.Minute
	}
	if s := d / time.Second; s > 0 || b.Len() == 2 {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}
