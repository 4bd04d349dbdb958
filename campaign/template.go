package campaign

import (
	"regexp"
	"strings"
	"time"

	"github.com/ericsoncardosoweb/apollo-ai/messaging/domain"
)

var variablePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// templateValues builds the substitution map for one contact. Variable names
// follow the template language the campaigns were authored in; unknown
// variables resolve to the empty string.
func templateValues(contact *Contact, now time.Time) map[string]string {
	values := map[string]string{
		"data_hoje":  now.Format("02/01/2006"),
		"hora_atual": now.Format("15:04"),
	}
	if contact == nil {
		return values
	}

	firstName := contact.Name
	if i := strings.IndexByte(firstName, ' '); i > 0 {
		firstName = firstName[:i]
	}

	values["nome"] = contact.Name
	values["primeiro_nome"] = firstName
	values["telefone"] = contact.Phone
	values["email"] = contact.Email
	values["empresa"] = contact.Company
	values["cargo"] = contact.Role
	values["cidade"] = contact.City
	values["estado"] = contact.State
	return values
}

// substitute replaces every {{variable}} occurrence in text.
func substitute(text string, values map[string]string) string {
	if text == "" {
		return text
	}
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-2]
		return values[name]
	})
}

// ResolveContent returns a copy of item with contact and system variables
// substituted into its text and media caption.
func ResolveContent(item domain.ContentItem, contact *Contact, now time.Time) domain.ContentItem {
	values := templateValues(contact, now)
	item.Content = substitute(item.Content, values)
	item.MediaCaption = substitute(item.MediaCaption, values)
	return item
}
