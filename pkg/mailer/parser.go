package mailer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Ramsey-B/clover/pkg/siterequest"
)

// The fixed labels of the price-request mail template.
const (
	labelProduct = "Товар:"
	labelID      = "ID:"
	labelName    = "Имя:"
	labelPhone   = "Телефон:"
	labelComment = "Комментарий:"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// StripHTML reduces an HTML body to plain text, which is enough for the
// label scan below.
func StripHTML(body string) string {
	text := strings.ReplaceAll(body, "<br>", "\n")
	text = strings.ReplaceAll(text, "<br/>", "\n")
	text = strings.ReplaceAll(text, "<br />", "\n")
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	return text
}

// ParseTemplate scans a mail body for the labeled template lines and builds
// a price request. Lines after the comment label fold into the comment.
func ParseTemplate(body string) (*siterequest.Request, error) {
	req := &siterequest.Request{}
	var commentLines []string
	inComment := false

	for _, rawLine := range strings.Split(body, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, labelProduct):
			req.ProductName = strings.TrimSpace(strings.TrimPrefix(line, labelProduct))
			inComment = false
		case strings.HasPrefix(line, labelID):
			raw := strings.TrimSpace(strings.TrimPrefix(line, labelID))
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid product id %q in mail template", raw)
			}
			req.ProductID = id
			inComment = false
		case strings.HasPrefix(line, labelName):
			req.Name = strings.TrimSpace(strings.TrimPrefix(line, labelName))
			inComment = false
		case strings.HasPrefix(line, labelPhone):
			req.Phone = strings.TrimSpace(strings.TrimPrefix(line, labelPhone))
			inComment = false
		case strings.HasPrefix(line, labelComment):
			commentLines = append(commentLines, strings.TrimSpace(strings.TrimPrefix(line, labelComment)))
			inComment = true
		case inComment:
			commentLines = append(commentLines, line)
		}
	}

	if req.Phone == "" {
		return nil, fmt.Errorf("mail template missing phone")
	}
	if req.ProductID == 0 {
		return nil, fmt.Errorf("mail template missing product id")
	}

	comment := strings.TrimSpace(strings.Join(commentLines, "\n"))
	if comment != "" {
		req.Comment = comment
	}
	return req, nil
}
