package onvif

import (
	"strings"
)

// FaultError is a SOAP fault returned by a camera
type FaultError struct {
	Code    string // e.g. "env:Sender"
	Subcode string // e.g. "ter:NotAuthorized"
	Reason  string
}

func (f *FaultError) Error() string {
	msg := "SOAP fault"
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	if f.Subcode != "" {
		msg += " (" + f.Subcode + ")"
	} else if f.Code != "" {
		msg += " (" + f.Code + ")"
	}
	return msg
}

// NotAuthorized reports whether the camera rejected the credentials
func (f *FaultError) NotAuthorized() bool {
	return strings.Contains(f.Subcode, "NotAuthorized") ||
		strings.Contains(f.Reason, "NotAuthorized") ||
		strings.Contains(f.Code, "NotAuthorized")
}

// containsSOAPFault checks if the response contains a SOAP fault element
// with any namespace prefix (e.g. s:Fault, SOAP-ENV:Fault, env:Fault, soap:Fault)
func containsSOAPFault(resp string) bool {
	if strings.Contains(resp, ":Fault>") || strings.Contains(resp, ":Fault ") {
		return true
	}
	if strings.Contains(resp, "<Fault>") || strings.Contains(resp, "<Fault ") {
		return true
	}
	return false
}

// parseSOAPFault checks for SOAP faults and returns a *FaultError
func parseSOAPFault(resp []byte) error {
	respStr := string(resp)

	if !containsSOAPFault(respStr) {
		return nil
	}

	doc, err := parseDocument(resp)
	if err == nil {
		fault := doc.FindElement("//Fault")
		if fault == nil {
			// The marker was payload text, not an element
			return nil
		}
		f := &FaultError{
			// SOAP 1.2
			Code:    elementText(fault, "Code/Value"),
			Subcode: elementText(fault, "Code/Subcode/Value"),
			Reason:  elementText(fault, "Reason/Text"),
		}
		// SOAP 1.1
		if f.Code == "" {
			f.Code = elementText(fault, "faultcode")
		}
		if f.Reason == "" {
			f.Reason = elementText(fault, "faultstring")
		}
		return f
	}

	// Truncated or otherwise unparsable: fall back to string extraction
	f := &FaultError{}
	if reason := extractBetweenTags(respStr, "Reason"); reason != "" {
		f.Reason = strings.TrimSpace(extractBetweenTags(reason, "Text"))
	}
	if f.Reason == "" {
		f.Reason = strings.TrimSpace(extractBetweenTags(respStr, "faultstring"))
	}
	return f
}

// extractBetweenTags finds content between opening and closing tags with any namespace prefix
func extractBetweenTags(s, localName string) string {
	openIdx := -1
	for _, pattern := range []string{"<" + localName + ">", "<" + localName + " "} {
		if idx := strings.Index(s, pattern); idx != -1 {
			openIdx = idx
			break
		}
	}

	// Try with namespace prefix: look for :<localName>
	if openIdx == -1 {
		idx := -1
		for _, marker := range []string{":" + localName + ">", ":" + localName + " "} {
			if i := strings.Index(s, marker); i != -1 && (idx == -1 || i < idx) {
				idx = i
			}
		}
		// Walk back to find the '<'
		for i := idx - 1; i >= 0 && i > idx-20; i-- {
			if s[i] == '<' {
				openIdx = i
				break
			}
		}
	}

	if openIdx == -1 {
		return ""
	}

	contentStart := strings.Index(s[openIdx:], ">")
	if contentStart == -1 {
		return ""
	}
	contentStart += openIdx + 1

	closeIdx := strings.Index(s[contentStart:], ":"+localName+">")
	if closeIdx != -1 {
		// Walk back over the closing prefix to its "</"
		end := contentStart + closeIdx
		for i := end - 1; i >= contentStart; i-- {
			if s[i] == '<' {
				return s[contentStart:i]
			}
		}
		return ""
	}
	closeIdx = strings.Index(s[contentStart:], "</"+localName+">")
	if closeIdx == -1 {
		return ""
	}

	return s[contentStart : contentStart+closeIdx]
}

// escapeXML escapes special XML characters in a string
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
