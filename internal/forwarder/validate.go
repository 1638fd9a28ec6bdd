package forwarder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"brightchat/internal/domain"
)

var senderOptions = []string{string(domain.SenderUser), string(domain.SenderAgent)}

// Validate decodes body and checks it against the ChatMessage schema.
// Every violation is reported, in field order message, sender, timestamp, chatId.
// An empty body is checked as an empty object.
func Validate(body []byte) (domain.ChatMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return domain.ChatMessage{}, invalidJSON(err)
	}
	// The body must hold exactly one JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return domain.ChatMessage{}, invalidJSON(err)
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return domain.ChatMessage{}, &ValidationError{Issues: []Issue{typeIssue(nil, "object", raw, true)}}
	}

	var (
		msg    domain.ChatMessage
		issues []Issue
	)

	if s, is := requiredString(obj, "message"); is != nil {
		issues = append(issues, *is)
	} else {
		msg.Message = s
	}

	if v, present := obj["sender"]; !present {
		issues = append(issues, typeIssue([]string{"sender"}, "string", nil, false))
	} else if s, isString := v.(string); !isString {
		issues = append(issues, typeIssue([]string{"sender"}, "string", v, true))
	} else if sender := domain.Sender(s); !sender.Valid() {
		issues = append(issues, Issue{
			Code:     "invalid_enum_value",
			Received: s,
			Options:  senderOptions,
			Path:     []string{"sender"},
			Message:  fmt.Sprintf("Invalid enum value. Expected 'user' | 'agent', received '%s'", s),
		})
	} else {
		msg.Sender = sender
	}

	if v, present := obj["timestamp"]; present {
		if s, isString := v.(string); isString {
			msg.Timestamp = s
		} else {
			issues = append(issues, typeIssue([]string{"timestamp"}, "string", v, true))
		}
	}

	if s, is := requiredString(obj, "chatId"); is != nil {
		issues = append(issues, *is)
	} else {
		msg.ChatID = s
	}

	if len(issues) > 0 {
		return domain.ChatMessage{}, &ValidationError{Issues: issues}
	}
	return msg, nil
}

func invalidJSON(err error) *ValidationError {
	return &ValidationError{Issues: []Issue{{
		Code:    "invalid_json",
		Path:    []string{},
		Message: fmt.Sprintf("Malformed JSON body: %v", err),
	}}}
}

func requiredString(obj map[string]any, field string) (string, *Issue) {
	v, present := obj[field]
	if !present {
		is := typeIssue([]string{field}, "string", nil, false)
		return "", &is
	}
	s, ok := v.(string)
	if !ok {
		is := typeIssue([]string{field}, "string", v, true)
		return "", &is
	}
	if s == "" {
		return "", &Issue{
			Code:    "too_small",
			Path:    []string{field},
			Message: "String must contain at least 1 character(s)",
		}
	}
	return s, nil
}

func typeIssue(path []string, expected string, v any, present bool) Issue {
	if path == nil {
		path = []string{}
	}
	received := "undefined"
	if present {
		received = jsonType(v)
	}
	msg := "Required"
	if present {
		msg = fmt.Sprintf("Expected %s, received %s", expected, received)
	}
	return Issue{
		Code:     "invalid_type",
		Expected: expected,
		Received: received,
		Path:     path,
		Message:  msg,
	}
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
