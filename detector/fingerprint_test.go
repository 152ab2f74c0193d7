package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imovel-scraper/scraper/caixa"
)

const detailPage = `<html><head><title>Imóvel</title></head><body>
<h1>  Imóvel   X123 </h1>
<table>
  <thead><tr><th>Campo</th><th>Valor</th></tr></thead>
  <tr><td>Valor de venda</td><td>R$ 95.000,00</td></tr>
  <tr><td>Matrícula</td><td>12340</td></tr>
</table>
<table><tr><td>Leilão único</td></tr></table>
<form action="/busca" method="POST"><input name="q"><select name="uf"></select></form>
<p>Imóvel aceita financiamento habitacional. Venda direta. Financiamento SBPE.</p>
<a href="/edital.pdf">Edital</a><a href="/matricula.pdf">Matrícula</a>
</body></html>`

func TestPageFingerprint(t *testing.T) {
	fp, err := PageFingerprint(detailPage)
	require.NoError(t, err)

	assert.Equal(t, "Imóvel X123", fp.TitleSelectors["h1"])
	assert.NotContains(t, fp.TitleSelectors, "h2")

	require.Len(t, fp.Tables, 2)
	assert.Equal(t, 3, fp.Tables[0].RowCount)
	assert.True(t, fp.Tables[0].HasHeader)
	assert.Equal(t, 1, fp.Tables[1].RowCount)
	assert.False(t, fp.Tables[1].HasHeader)

	require.Len(t, fp.Forms, 1)
	assert.Equal(t, 2, fp.Forms[0].InputCount)
	assert.Equal(t, "/busca", fp.Forms[0].Action)
	assert.Equal(t, "post", fp.Forms[0].Method)

	assert.Equal(t, 2, fp.KeyPatterns["financiamento"])
	assert.Equal(t, 1, fp.KeyPatterns["leilao"])
	assert.Equal(t, 2, fp.KeyPatterns["matricula"])

	assert.Equal(t, 2, fp.Counters.TableCount)
	assert.Equal(t, 1, fp.Counters.FormCount)
	assert.Equal(t, 2, fp.Counters.LinkCount)
	assert.Greater(t, fp.Counters.TotalElements, 20)
}

const catalogFeed = "Lista de Imóveis da Caixa\n" +
	"N° do imóvel;UF;Preço;Data;Observação\n" +
	"X1;SP;95.000,00;01/02/2024;\n" +
	"X2;RJ;210.500,50;15/03/2024;\n" +
	"X3;MG;80.000,00;2024-04-01;\n"

func TestFeedFingerprint(t *testing.T) {
	feed, err := caixa.ParseFeed([]byte(catalogFeed))
	require.NoError(t, err)

	fp := FeedFingerprint(feed)
	assert.Equal(t, []string{"N° do imóvel", "UF", "Preço", "Data", "Observação"}, fp.Columns)
	assert.Equal(t, 5, fp.ColumnCount)
	assert.Equal(t, 3, fp.RowCount)
	assert.Equal(t, ";", fp.Delimiter)
	assert.Equal(t, "UTF-8", fp.Encoding)

	assert.Equal(t, "text", fp.ColumnTypes["UF"])
	assert.Equal(t, "numeric", fp.ColumnTypes["Preço"])
	assert.Equal(t, "date", fp.ColumnTypes["Data"])
	assert.Equal(t, "empty", fp.ColumnTypes["Observação"])

	require.Len(t, fp.Sample, 3)
	assert.Equal(t, []string{"X2", "RJ", "210.500,50", "15/03/2024", ""}, fp.Sample[1])
}

func TestGuessColumnType(t *testing.T) {
	tests := []struct {
		values []string
		want   string
	}{
		{[]string{"", " "}, "empty"},
		{[]string{"1", "2,5", "3.000,00", "4", "5"}, "numeric"},
		{[]string{"1", "2", "abc", "def"}, "text"},
		{[]string{"01/01/2024", "02/01/2024 10:00"}, "date"},
	}
	for _, tt := range tests {
		if got := guessColumnType(tt.values); got != tt.want {
			t.Errorf("guessColumnType(%q): got %q, want %q", tt.values, got, tt.want)
		}
	}
}
