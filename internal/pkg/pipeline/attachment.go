package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// AttachmentForm records which JSON shape an attachment arrived in.
type AttachmentForm int

const (
	FormURL AttachmentForm = iota + 1
	FormObject
)

// Attachment is a webhook attachment reference: either a bare URL string or
// an object carrying a url. It is resolved to a single URL once, before any
// network work.
type Attachment struct {
	Form        AttachmentForm
	URL         string
	ContentType string
	Name        string
}

// URLAttachment builds the string form.
func URLAttachment(u string) Attachment {
	return Attachment{Form: FormURL, URL: u}
}

type attachmentObject struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Name        string `json:"name,omitempty"`
}

func (a *Attachment) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Attachment{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Attachment{Form: FormURL, URL: s}
		return nil
	case '{':
		var obj attachmentObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*a = Attachment{Form: FormObject, URL: obj.URL, ContentType: obj.ContentType, Name: obj.Name}
		return nil
	}
	return fmt.Errorf("attachment must be a string or an object, got %s", truncate(string(data), 40))
}

func (a Attachment) MarshalJSON() ([]byte, error) {
	if a.Form == FormObject {
		return json.Marshal(attachmentObject{URL: a.URL, ContentType: a.ContentType, Name: a.Name})
	}
	return json.Marshal(a.URL)
}

// Resolve returns the canonical download URL.
func (a Attachment) Resolve() (*url.URL, error) {
	raw := strings.TrimSpace(a.URL)
	if raw == "" {
		return nil, fmt.Errorf("attachment has no url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("attachment url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("attachment url scheme %q is not http(s)", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("attachment url has no host")
	}
	return u, nil
}

// FileName is the declared name or the last URL path segment.
func (a Attachment) FileName() string {
	if a.Name != "" {
		return a.Name
	}
	if u, err := url.Parse(strings.TrimSpace(a.URL)); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return "attachment"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
