package rules

import (
	"errors"
	"reflect"
	"testing"
)

func TestRender(t *testing.T) {
	values := Captures{"n": "123", "code": "BAR", "name_1": "x"}

	tests := []struct {
		template string
		want     string
	}{
		{"Banana number=$n", "Banana number=123"},
		{"${code}X", "BARX"},
		{"$code$n", "BAR123"},
		{"cost $$5", "cost $5"},
		{"$$n", "$n"},
		{"$name_1!", "x!"},
		{"no placeholders", "no placeholders"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			got, err := Render(tt.template, values)
			if err != nil {
				t.Fatalf("Render(%q) error: %v", tt.template, err)
			}
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		name            string
		template        string
		wantPlaceholder string
	}{
		{"missing name", "$missing", "missing"},
		{"missing braced name", "${missing}", "missing"},
		{"bare dollar at end", "cost $", ""},
		{"dollar before digit", "$1", ""},
		{"unterminated brace", "${n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tt.template, Captures{"n": "1"})

			var te *TemplateError
			if !errors.As(err, &te) {
				t.Fatalf("Expected *TemplateError, got %T: %v", err, err)
			}
			if te.Placeholder != tt.wantPlaceholder {
				t.Errorf("Placeholder = %q, want %q", te.Placeholder, tt.wantPlaceholder)
			}
			if te.Template != tt.template {
				t.Errorf("Template = %q, want %q", te.Template, tt.template)
			}
		})
	}
}

func TestPlaceholders(t *testing.T) {
	names, err := Placeholders("$a ${b} $$c $a")
	if err != nil {
		t.Fatalf("Placeholders() error: %v", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Placeholders() = %v, want %v", names, want)
	}

	if _, err := Placeholders("trailing $"); err == nil {
		t.Error("Expected error for a bare $")
	}
}
