package utils

import "testing"

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Não", "nao"},
		{"SOMENTE À VISTA", "somente a vista"},
		{"Matrícula", "matricula"},
		{"Leilão", "leilao"},
		{"N° do imóvel", "n° do imovel"},
	}
	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollapseSpace(t *testing.T) {
	if got := CollapseSpace("  R$  150.000,00 \n\t "); got != "R$ 150.000,00" {
		t.Errorf("CollapseSpace: got %q", got)
	}
}

func TestContainsPhrase(t *testing.T) {
	tests := []struct {
		text, phrase string
		want         bool
	}{
		{"financiamento: sim", "sim", true},
		{"e assim por diante", "sim", false},
		{"simples", "sim", false},
		{"pagamento a vista.", "a vista", true},
		{"na vista do mar", "a vista", false},
		{"<td>nao</td>", "nao", true},
		{"", "sim", false},
	}
	for _, tt := range tests {
		if got := ContainsPhrase(tt.text, tt.phrase); got != tt.want {
			t.Errorf("ContainsPhrase(%q, %q): got %v, want %v", tt.text, tt.phrase, got, tt.want)
		}
	}
}
