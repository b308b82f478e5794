package notarize

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"howett.net/plist"

	"github.com/aluedeke/go-notarize/pkg/failure"
)

// StapleConfirmation is printed by stapler when the ticket was attached
// and validated.
const StapleConfirmation = "The staple and validate action worked!"

var (
	requestIDPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	statusLine       = regexp.MustCompile(`(?m)Status: (.*)$`)
	logURLLine       = regexp.MustCompile(`LogFileURL: (\S+)`)
)

// toolOutput is the document altool prints with --output-format xml.
type toolOutput struct {
	SuccessMessage string             `plist:"success-message"`
	ProductErrors  []productError     `plist:"product-errors"`
	Upload         notarizationUpload `plist:"notarization-upload"`
	Info           notarizationInfo   `plist:"notarization-info"`
}

type notarizationUpload struct {
	RequestUUID string `plist:"RequestUUID"`
}

type notarizationInfo struct {
	Date          time.Time `plist:"Date"`
	LogFileURL    string    `plist:"LogFileURL"`
	RequestUUID   string    `plist:"RequestUUID"`
	Status        string    `plist:"Status"`
	StatusCode    int       `plist:"Status Code"`
	StatusMessage string    `plist:"Status Message"`
}

type productError struct {
	Code    int    `plist:"code"`
	Message string `plist:"message"`
}

// decodeToolOutput decodes output when it is a plist document. ok is
// false for free text.
func decodeToolOutput(output string) (doc toolOutput, ok bool) {
	trimmed := strings.TrimSpace(output)
	if !strings.HasPrefix(trimmed, "<?xml") && !strings.HasPrefix(trimmed, "<plist") && !strings.HasPrefix(trimmed, "bplist") {
		return doc, false
	}
	if _, err := plist.Unmarshal([]byte(trimmed), &doc); err != nil {
		return doc, false
	}
	return doc, true
}

func (doc toolOutput) errorMessages() string {
	msgs := make([]string, 0, len(doc.ProductErrors))
	for _, e := range doc.ProductErrors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// ParseRequestID returns the request UUID from altool --notarize-app
// output. For free text it is the first UUID-shaped token, returned as
// printed.
func ParseRequestID(output string) (string, error) {
	if doc, ok := decodeToolOutput(output); ok {
		if id := doc.Upload.RequestUUID; id != "" {
			if _, err := uuid.Parse(id); err != nil {
				return "", failure.Errorf(failure.ResponseParse, "altool", "invalid RequestUUID %q: %v", id, err)
			}
			return id, nil
		}
		if msgs := doc.errorMessages(); msgs != "" {
			return "", failure.Errorf(failure.ResponseParse, "altool", "no RequestUUID in submission output: %s", msgs)
		}
	}

	id := requestIDPattern.FindString(output)
	if id == "" {
		return "", failure.Errorf(failure.ResponseParse, "altool", "UUID not found in notarization output: %q", excerpt(output))
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", failure.Errorf(failure.ResponseParse, "altool", "invalid request UUID %q: %v", id, err)
	}
	return id, nil
}

// ParseStatus returns the literal value of the first "Status: " line, or
// notarization-info.Status for XML output. An empty first value is an
// error; later lines are not consulted.
func ParseStatus(output string) (string, error) {
	if doc, ok := decodeToolOutput(output); ok {
		if s := strings.TrimSpace(doc.Info.Status); s != "" {
			return s, nil
		}
		return "", failure.Errorf(failure.ResponseParse, "altool", "notarization status not found in status output: %s", doc.errorMessages())
	}

	m := statusLine.FindStringSubmatch(output)
	if m == nil {
		return "", failure.Errorf(failure.ResponseParse, "altool", "notarization status not found in status output: %q", excerpt(output))
	}
	s := strings.TrimSpace(m[1])
	if s == "" {
		return "", failure.Errorf(failure.ResponseParse, "altool", "empty notarization status in status output: %q", excerpt(output))
	}
	return s, nil
}

// ParseStatusReport parses a full status response.
func ParseStatusReport(output string) (*StatusReport, error) {
	raw, err := ParseStatus(output)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{Status: Classify(raw), Raw: raw, Output: output}
	if doc, ok := decodeToolOutput(output); ok {
		report.LogFileURL = doc.Info.LogFileURL
	} else if m := logURLLine.FindStringSubmatch(output); m != nil {
		report.LogFileURL = m[1]
	}
	return report, nil
}

// StapleConfirmed reports whether stapler output contains the success phrase.
func StapleConfirmed(output string) bool {
	return strings.Contains(output, StapleConfirmation)
}

// excerpt shortens tool output for error messages.
func excerpt(output string) string {
	const limit = 512
	s := strings.TrimSpace(output)
	if len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}
