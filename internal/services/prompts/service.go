package prompts

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/ghibliflow/internal/common"
)

// Type is a prompt preset selector sent by the upload form
type Type string

const (
	TypeGhibli    Type = "ghibli"
	TypeCatHuman  Type = "cat-human"
	TypeIrasutoya Type = "irasutoya"
	TypeCustom    Type = "custom"

	// DefaultType is used when the form omits promptType
	DefaultType = TypeGhibli
)

var (
	ErrUnknownType = errors.New("unknown prompt type")
	ErrEmptyCustom = errors.New("custom prompt text is required")
)

// Service resolves prompt types to prompt text
type Service struct {
	presets map[Type]string
}

// NewService creates a resolver over the configured presets
func NewService(config common.PromptsConfig) *Service {
	return &Service{
		presets: map[Type]string{
			TypeGhibli:    config.Ghibli,
			TypeCatHuman:  config.CatHuman,
			TypeIrasutoya: config.Irasutoya,
		},
	}
}

// Resolve returns the prompt text for promptType. customText is only read for TypeCustom.
func (s *Service) Resolve(promptType, customText string) (string, error) {
	t := Type(strings.ToLower(strings.TrimSpace(promptType)))
	if t == "" {
		t = DefaultType
	}

	if t == TypeCustom {
		text := strings.TrimSpace(customText)
		if text == "" {
			return "", ErrEmptyCustom
		}
		return text, nil
	}

	text, ok := s.presets[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, promptType)
	}
	if text == "" {
		return "", fmt.Errorf("prompt preset %q is empty", t)
	}
	return text, nil
}

// Types lists the accepted prompt types
func (s *Service) Types() []string {
	types := make([]string, 0, len(s.presets)+1)
	for t := range s.presets {
		types = append(types, string(t))
	}
	types = append(types, string(TypeCustom))
	sort.Strings(types)
	return types
}
