package mailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemplate(t *testing.T) {
	body := `Товар: Насос центробежный НЦ-60
ID: 1507
Имя: Алия
Телефон: +77011234567
Комментарий: Нужно 2 штуки
срочно до пятницы`

	req, err := ParseTemplate(body)
	require.NoError(t, err)

	assert.Equal(t, "Насос центробежный НЦ-60", req.ProductName)
	assert.Equal(t, int64(1507), req.ProductID)
	assert.Equal(t, "Алия", req.Name)
	assert.Equal(t, "+77011234567", req.Phone)
	assert.Equal(t, "Нужно 2 штуки\nсрочно до пятницы", req.Comment)
}

func TestParseTemplateMinimal(t *testing.T) {
	body := `ID: 12
Телефон: 87001112233`

	req, err := ParseTemplate(body)
	require.NoError(t, err)
	assert.Equal(t, int64(12), req.ProductID)
	assert.Equal(t, "87001112233", req.Phone)
	assert.Empty(t, req.Comment)
}

func TestParseTemplateMissingPhone(t *testing.T) {
	_, err := ParseTemplate("Товар: X\nID: 5")
	assert.ErrorContains(t, err, "missing phone")
}

func TestParseTemplateMissingProductID(t *testing.T) {
	_, err := ParseTemplate("Товар: X\nТелефон: 87001112233")
	assert.ErrorContains(t, err, "missing product id")
}

func TestParseTemplateBadProductID(t *testing.T) {
	_, err := ParseTemplate("ID: abc\nТелефон: 87001112233")
	assert.ErrorContains(t, err, "invalid product id")
}

func TestParseTemplateFromHTML(t *testing.T) {
	html := `<html><body><p>Товар:&nbsp;Клапан</p><br>ID: 33<br/>Телефон: +77010000000<br />Комментарий: цена &amp; сроки</body></html>`

	req, err := ParseTemplate(StripHTML(html))
	require.NoError(t, err)
	assert.Equal(t, "Клапан", req.ProductName)
	assert.Equal(t, int64(33), req.ProductID)
	assert.Equal(t, "цена & сроки", req.Comment)
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "a\nb", StripHTML("a<br>b"))
	assert.Equal(t, "text", StripHTML("<div class=\"x\">text</div>"))
	assert.Equal(t, "a b", StripHTML("a&nbsp;b"))
}
