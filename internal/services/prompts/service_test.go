package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/ghibliflow/internal/common"
)

func TestService_Resolve(t *testing.T) {
	service := NewService(common.NewDefaultConfig().Prompts)

	tests := []struct {
		name       string
		promptType string
		custom     string
		want       string
		wantErr    error
	}{
		{name: "ghibli", promptType: "ghibli", want: common.NewDefaultConfig().Prompts.Ghibli},
		{name: "default when empty", promptType: "", want: common.NewDefaultConfig().Prompts.Ghibli},
		{name: "case insensitive", promptType: " Cat-Human ", want: common.NewDefaultConfig().Prompts.CatHuman},
		{name: "irasutoya", promptType: "irasutoya", want: common.NewDefaultConfig().Prompts.Irasutoya},
		{name: "custom", promptType: "custom", custom: "  paint it blue  ", want: "paint it blue"},
		{name: "custom empty", promptType: "custom", custom: "   ", wantErr: ErrEmptyCustom},
		{name: "unknown", promptType: "vangogh", wantErr: ErrUnknownType},
		{name: "custom text ignored for presets", promptType: "ghibli", custom: "ignored", want: common.NewDefaultConfig().Prompts.Ghibli},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := service.Resolve(tt.promptType, tt.custom)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_EmptyPreset(t *testing.T) {
	service := NewService(common.PromptsConfig{Ghibli: "g"})
	_, err := service.Resolve("irasutoya", "")
	assert.Error(t, err)
}

func TestService_Types(t *testing.T) {
	service := NewService(common.PromptsConfig{})
	assert.Equal(t, []string{"cat-human", "custom", "ghibli", "irasutoya"}, service.Types())
}
