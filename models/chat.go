package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type ChatPostRequest struct {
	Messages []ChatMessage `json:"messages"`
}

type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

func (r ChatRole) Valid() bool {
	return r == ChatRoleUser || r == ChatRoleAssistant
}

type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

type ChatPostResponse struct {
	Response string `json:"response" yaml:"response"`
}

// FieldError describes a single invalid field, using a JSON path such as
// "messages[1].role".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (ve ValidationError) Error() string {
	msgs := make([]string, len(ve.Fields))
	for i, f := range ve.Fields {
		msgs[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

// ValidationErrorResponse is the body returned to callers for a rejected request.
type ValidationErrorResponse struct {
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields"`
}

// ParseChatPostRequest decodes and validates a chat request body.
// Any problem with the shape of the body is returned as a ValidationError
// listing every offending field that could be found.
func ParseChatPostRequest(r io.Reader) (req ChatPostRequest, err error) {
	dec := json.NewDecoder(r)
	var raw json.RawMessage
	if err = dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return req, newValidationError("body", "request body is empty")
		}
		return req, newValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	if err = dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return req, newValidationError("body", "unexpected data after JSON object")
	}
	if kind := jsonKind(raw); kind != "object" {
		return req, newValidationError("body", fmt.Sprintf("expected object, got %s", kind))
	}
	var body map[string]json.RawMessage
	if err = json.Unmarshal(raw, &body); err != nil {
		return req, newValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}

	rawMessages, ok := body["messages"]
	if !ok || jsonKind(rawMessages) == "null" {
		return req, newValidationError("messages", "field required")
	}
	if kind := jsonKind(rawMessages); kind != "array" {
		return req, newValidationError("messages", fmt.Sprintf("expected array, got %s", kind))
	}
	var elements []json.RawMessage
	if err = json.Unmarshal(rawMessages, &elements); err != nil {
		return req, newValidationError("messages", fmt.Sprintf("invalid JSON: %v", err))
	}
	if len(elements) == 0 {
		return req, newValidationError("messages", "must contain at least one message")
	}

	var ve ValidationError
	req.Messages = make([]ChatMessage, len(elements))
	for i, element := range elements {
		prefix := fmt.Sprintf("messages[%d]", i)
		if kind := jsonKind(element); kind != "object" {
			ve.add(prefix, fmt.Sprintf("expected object, got %s", kind))
			continue
		}
		var fields map[string]json.RawMessage
		if err = json.Unmarshal(element, &fields); err != nil {
			ve.add(prefix, fmt.Sprintf("invalid JSON: %v", err))
			continue
		}
		if role, msg := stringField(fields, "role"); msg != "" {
			ve.add(prefix+".role", msg)
		} else if !ChatRole(role).Valid() {
			ve.add(prefix+".role", fmt.Sprintf("must be %q or %q, got %q", ChatRoleUser, ChatRoleAssistant, role))
		} else {
			req.Messages[i].Role = ChatRole(role)
		}
		if content, msg := stringField(fields, "content"); msg != "" {
			ve.add(prefix+".content", msg)
		} else {
			req.Messages[i].Content = content
		}
	}
	if len(ve.Fields) > 0 {
		return ChatPostRequest{}, ve
	}
	return req, nil
}

func newValidationError(field, message string) ValidationError {
	return ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

func (ve *ValidationError) add(field, message string) {
	ve.Fields = append(ve.Fields, FieldError{Field: field, Message: message})
}

// stringField returns the named string field, or a message describing why it
// could not be read. A null value is treated as missing.
func stringField(fields map[string]json.RawMessage, name string) (value string, msg string) {
	raw, ok := fields[name]
	if !ok || jsonKind(raw) == "null" {
		return "", "field required"
	}
	if kind := jsonKind(raw); kind != "string" {
		return "", fmt.Sprintf("expected string, got %s", kind)
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Sprintf("invalid JSON: %v", err)
	}
	return value, ""
}

// jsonKind names the type of an already well-formed JSON value.
func jsonKind(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "null"
	}
	switch trimmed[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	}
	return "number"
}
