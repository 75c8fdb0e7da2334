package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetector_DetectISO(t *testing.T) {
	d := New()

	tests := []struct {
		name     string
		text     string
		wantLang string
		wantOK   bool
	}{
		{
			name:     "empty text",
			text:     "",
			wantLang: "",
			wantOK:   false,
		},
		{
			name:     "english text",
			text:     "Hello, this is a test written entirely in the English language.",
			wantLang: "en",
			wantOK:   true,
		},
		{
			name:     "portuguese text",
			text:     "Olá, este é um teste escrito inteiramente em língua portuguesa do Brasil.",
			wantLang: "pt",
			wantOK:   true,
		},
		{
			name:     "spanish text",
			text:     "Hola, esto es una prueba escrita completamente en español de España.",
			wantLang: "es",
			wantOK:   true,
		},
		{
			name:     "french text",
			text:     "Bonjour, ceci est un test écrit entièrement en langue française.",
			wantLang: "fr",
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang, ok := d.DetectISO(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantLang, lang)
		})
	}
}

func TestSentences(t *testing.T) {
	text := "Sim. Esta frase é longa o bastante para contar. Não!\nOutra linha que também conta bastante."
	got := Sentences(text)
	assert.Equal(t, []string{
		"Esta frase é longa o bastante para contar.",
		"Outra linha que também conta bastante.",
	}, got)
}

func TestSentences_Empty(t *testing.T) {
	assert.Empty(t, Sentences(""))
	assert.Empty(t, Sentences("Ok. Sim."))
}
