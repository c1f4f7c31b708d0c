package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"splithappens/internal/core"
	"splithappens/internal/services"
)

// maxFormBytes bounds the url-encoded and JSON bodies of the action forms.
const maxFormBytes = 64 << 10

var (
	errUploadTooLarge = errors.New("receipt image too large")
	errBadUpload      = errors.New("malformed upload")
)

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxFormBytes))
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	// htmx json-enc and the CLI send JSON objects
	if p.body[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a trimmed, sanitized value from the parsed data.
func (p *RequestBodyParser) Get(key string) string {
	return strings.TrimSpace(sanitizeInput(p.Raw(key)))
}

// Raw returns a value without trimming. Passcodes are sent as typed.
func (p *RequestBodyParser) Raw(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return stringValue(val)
		}
		return ""
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}

func (p *RequestBodyParser) ContentType() string {
	return p.contentType
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseActionForm reads an action body. A malformed body yields an empty
// form so the service layer reports the missing fields.
func ParseActionForm(r *http.Request) *RequestBodyParser {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		p.jsonData = nil
		p.formData = url.Values{}
	}
	return p
}

func ParseCreateHousehold(p *RequestBodyParser) core.CreateHouseholdInput {
	return core.CreateHouseholdInput{
		HouseholdName: p.Get("household_name"),
		Member1Name:   p.Get("member_1_name"),
		Member2Name:   p.Get("member_2_name"),
		Passcode:      p.Raw("passcode"),
	}
}

func ParseLogin(p *RequestBodyParser) core.LoginInput {
	return core.LoginInput{
		HouseholdName: p.Get("household_name"),
		Name:          p.Get("name"),
		Passcode:      p.Raw("passcode"),
	}
}

func ParseManualExpense(p *RequestBodyParser) services.ManualInput {
	return services.ManualInput{
		Vendor:      p.Get("vendor"),
		Total:       p.Get("total"),
		ExpenseDate: p.Get("expense_date"),
		Currency:    p.Get("currency"),
		Category:    p.Get("category"),
		Notes:       p.Get("notes"),
	}
}

// ParsePathInt reads a non-negative integer path wildcard.
func ParsePathInt(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

// ParseUpload extracts the "image" part of a multipart request. A request
// without a file yields an Upload with a nil body; the caller closes the
// returned file.
func ParseUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (services.Upload, io.Closer, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return services.Upload{}, nil, errUploadTooLarge
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return services.Upload{}, nil, nil
		}
		return services.Upload{}, nil, fmt.Errorf("%w: %v", errBadUpload, err)
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return services.Upload{}, nil, nil
	}
	if err != nil {
		return services.Upload{}, nil, fmt.Errorf("%w: %v", errBadUpload, err)
	}
	if header.Size == 0 {
		file.Close()
		return services.Upload{}, nil, nil
	}
	return services.Upload{
		Filename:    uploadName(header),
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}, file, nil
}

func uploadName(h *multipart.FileHeader) string {
	name := sanitizeInput(h.Filename)
	if name == "" {
		return "receipt.jpg"
	}
	return name
}

// isHTMX reports whether the request was issued by htmx rather than a
// plain form submit.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
