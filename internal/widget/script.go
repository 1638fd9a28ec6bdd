package widget

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Script is the scripted greeting played when the chat screen opens.
// Opening is shown at once; after TypingDelay the typing indicator turns on,
// and after a further ReplyDelay FollowUp is appended.
type Script struct {
	Opening     string        `yaml:"opening"`
	FollowUp    string        `yaml:"followUp"`
	TypingDelay time.Duration `yaml:"typingDelay"`
	ReplyDelay  time.Duration `yaml:"replyDelay"`
}

// DefaultScript returns the Mr. Bright insurance-assistant greeting.
func DefaultScript() *Script {
	return &Script{
		Opening:     "Hi there! 👋 I'm Mr. Bright, your insurance assistant.",
		FollowUp:    "I'm here to help you find the right coverage for your needs. To get started, could you tell me a bit about what type of insurance you're looking for today?",
		TypingDelay: 800 * time.Millisecond,
		ReplyDelay:  1500 * time.Millisecond,
	}
}

// ParseScript decodes a YAML script. Fields left out keep their default value.
//
//	opening: "Hello!"
//	followUp: "How can I help?"
//	typingDelay: 500ms
//	replyDelay: 1s
func ParseScript(data []byte) (*Script, error) {
	s := DefaultScript()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse greeting script: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadScript reads a YAML script from path. An empty path returns the default.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return DefaultScript(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read greeting script: %w", err)
	}
	return ParseScript(data)
}

func (s *Script) validate() error {
	if strings.TrimSpace(s.Opening) == "" {
		return fmt.Errorf("greeting script: opening is required")
	}
	if s.TypingDelay < 0 || s.ReplyDelay < 0 {
		return fmt.Errorf("greeting script: delays must not be negative")
	}
	return nil
}
