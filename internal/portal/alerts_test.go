package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const duplicatePage = `<html><body>
<app-reinf-mensagens-alerta>
  <div class="message alert alert-danger">
    <span data-testid="mensagem_descricao_0">Inclusão não permitida.
      Existe um evento ativo para o CPF do beneficiário no mesmo período de apuração.</span>
  </div>
</app-reinf-mensagens-alerta>
<form><input id="periodo_apuracao"></form>
</body></html>`

func TestExtractAlerts_PortalAlertComponent(t *testing.T) {
	alerts, err := ExtractAlerts(duplicatePage, DefaultSelectors())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Inclusão não permitida. Existe um evento ativo para o CPF do beneficiário no mesmo período de apuração.", alerts[0])
}

func TestExtractAlerts_ErrorContainersDeduplicated(t *testing.T) {
	page := `<html><body>
	<span class="campo-erro">CPF inválido</span>
	<div class="form-error">CPF inválido</div>
	<div class="aviso-rodape">Campo obrigatório</div>
	<span class="texto">ignored</span>
	</body></html>`

	alerts, err := ExtractAlerts(page, DefaultSelectors())
	require.NoError(t, err)
	assert.Equal(t, []string{"CPF inválido", "Campo obrigatório"}, alerts)
}

func TestExtractAlerts_SkipsSuccessBanners(t *testing.T) {
	page := `<html><body>
	<app-reinf-mensagens-alerta>
	  <div class="message alert alert-success"><span data-testid="mensagem_descricao">Evento enviado com sucesso</span></div>
	</app-reinf-mensagens-alerta>
	</body></html>`

	alerts, err := ExtractAlerts(page, DefaultSelectors())
	require.NoError(t, err)
	assert.Empty(t, alerts)

	ok, err := ExtractSuccess(page, DefaultSelectors())
	require.NoError(t, err)
	assert.Equal(t, []string{"Evento enviado com sucesso"}, ok)
}

func TestExtractAlerts_CleanPage(t *testing.T) {
	alerts, err := ExtractAlerts(`<html><body><p>Olá</p></body></html>`, DefaultSelectors())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestHasElement(t *testing.T) {
	sel := DefaultSelectors()
	assert.True(t, HasElement(duplicatePage, sel.Period))
	assert.False(t, HasElement(duplicatePage, sel.DetailMarker))
}

func TestParseSignMethod(t *testing.T) {
	m, err := ParseSignMethod("click")
	require.NoError(t, err)
	assert.Equal(t, SignClick, m)

	m, err = ParseSignMethod("")
	require.NoError(t, err)
	assert.Equal(t, SignKeyboard, m)

	_, err = ParseSignMethod("voice")
	assert.Error(t, err)
}
