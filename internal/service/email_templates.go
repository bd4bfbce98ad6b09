package service

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`,
	"(", `\(`, ")", `\)`, "#", `\#`, "<", `\<`, ">", `\>`, "!", `\!`, "|", `\|`, "~", `\~`,
	"-", `\-`, "+", `\+`, "=", `\=`, "&", `\&`, ".", `\.`, ":", `\:`,
)

// escapeMarkdown keeps user-supplied text literal inside a markdown template.
// Every markdown punctuation mark is escaped, which also keeps GFM from
// autolinking URLs. Leading whitespace is dropped so a line cannot become an
// indented code block.
func escapeMarkdown(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = markdownEscaper.Replace(strings.TrimLeft(line, " \t"))
	}
	return strings.Join(lines, "\n")
}

func answerList(answers []NotificationAnswer) string {
	var b strings.Builder
	for _, a := range answers {
		fmt.Fprintf(&b, "**%s**\n%s\n\n", escapeMarkdown(a.Question), escapeMarkdown(a.Value))
	}
	return b.String()
}

func submissionNotificationTemplate(p AdminNotificationPayload, appName string) (string, string) {
	subject := fmt.Sprintf("[%s] New %s submission: %s", appName, p.Kind, p.QuestionnaireID)

	from := "anonymous"
	if p.Email != "" {
		from = escapeMarkdown(p.Email)
	}

	var meta strings.Builder
	for _, k := range slices.Sorted(maps.Keys(p.Metadata)) {
		fmt.Fprintf(&meta, "- %s: %s\n", escapeMarkdown(k), escapeMarkdown(p.Metadata[k]))
	}

	body := fmt.Sprintf(`A new submission was completed.

Session: %s
Locale: %s
From: %s

%s%s`, p.SessionID, p.Locale, from, answerList(p.Answers), meta.String())

	return subject, body
}

var confirmationSubjects = map[string]string{
	"en": "We received your message - %s",
	"fr": "Nous avons bien reçu votre message - %s",
	"de": "Wir haben Ihre Nachricht erhalten - %s",
}

var confirmationIntros = map[string]string{
	"en": "Thank you! Here is a copy of what you sent us:",
	"fr": "Merci ! Voici une copie de votre envoi :",
	"de": "Vielen Dank! Hier ist eine Kopie Ihrer Angaben:",
}

func confirmationTemplate(p CustomerConfirmationPayload, appName string) (string, string) {
	subjectFormat, ok := confirmationSubjects[p.Locale]
	if !ok {
		subjectFormat = confirmationSubjects["en"]
	}
	intro, ok := confirmationIntros[p.Locale]
	if !ok {
		intro = confirmationIntros["en"]
	}

	subject := fmt.Sprintf(subjectFormat, appName)
	body := fmt.Sprintf(`## %s

%s

%s
The %s Team`, escapeMarkdown(p.Title), intro, answerList(p.Answers), appName)

	return subject, body
}
