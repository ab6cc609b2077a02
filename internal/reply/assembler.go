package reply

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// MaxLength is the longest reply delivered in one chat message.
const MaxLength = 1600

var (
	// Backend error codes (TOOL_TIMEOUT, INVALID_UUID, ...) never reach customers.
	errorCodePattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]*(?:_[A-Z0-9]+)+\b`)
	leakPatterns     = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token|bearer\s+token)\s*[:=]\s*\S+`),
		regexp.MustCompile(`(?i)(postgres|mysql|redis|mongodb)://\S+`),
		regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
		regexp.MustCompile(`(?i)goroutine \d+ \[[a-z ]+\]:`),
	}
	headerPattern = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]*`)
	dashBullet    = regexp.MustCompile(`(?m)^[ \t]*[-*][ \t]+`)
	doubleStar    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	spaceRuns     = regexp.MustCompile(`[ \t]{2,}`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Assembler renders reply fragments through per-language templates.
type Assembler struct {
	templates map[string]map[Key]*template.Template
	logger    *logging.Logger
}

// NewAssembler parses the built-in templates. A template that fails to parse
// is a programming error and panics.
func NewAssembler(logger *logging.Logger) *Assembler {
	a := &Assembler{
		templates: make(map[string]map[Key]*template.Template, len(catalog)),
		logger:    logging.OrDefault(logger),
	}
	for lang, entries := range catalog {
		funcs := funcsFor(lang)
		set := make(map[Key]*template.Template, len(entries))
		for key, text := range entries {
			set[key] = template.Must(template.New(lang + "/" + string(key)).
				Option("missingkey=error").
				Funcs(funcs).
				Parse(text))
		}
		a.templates[lang] = set
	}
	return a
}

// Supports reports whether lang has its own template set.
func (a *Assembler) Supports(lang string) bool {
	_, ok := a.templates[lang]
	return ok
}

// Render joins the fragments into one message in lang, falling back to
// DefaultLanguage when lang has no templates. A fragment that fails to render
// replaces the whole reply with the apology so a half-built answer is never sent.
func (a *Assembler) Render(lang string, persona Persona, msgs []Message) string {
	if !a.Supports(lang) {
		lang = DefaultLanguage
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text, err := a.renderOne(lang, persona, m)
		if err != nil {
			a.logger.Error("reply template failed", "key", string(m.Key), "language", lang, "error", err)
			apology, _ := a.renderOne(lang, persona, Message{Key: KeyApology})
			parts = []string{apology}
			break
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return Format(strings.Join(parts, "\n\n"))
}

func (a *Assembler) renderOne(lang string, persona Persona, m Message) (string, error) {
	tmpl, ok := a.templates[lang][m.Key]
	if !ok {
		tmpl, ok = a.templates[DefaultLanguage][m.Key]
	}
	if !ok {
		return "", fmt.Errorf("reply: unknown key %q", m.Key)
	}
	data := make(map[string]any, len(m.Data)+2)
	data["BotName"] = persona.BotName
	data["Tone"] = persona.Tone
	for k, v := range m.Data {
		data[k] = v
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("reply: execute %s: %w", m.Key, err)
	}
	return buf.String(), nil
}

// Format makes text safe for chat delivery: internal codes and leaked
// secrets are removed, markdown headers dropped, list markers turned into
// bullets and the result capped at MaxLength runes.
func Format(text string) string {
	for _, re := range leakPatterns {
		text = re.ReplaceAllString(text, "")
	}
	text = errorCodePattern.ReplaceAllString(text, "")
	text = headerPattern.ReplaceAllString(text, "")
	text = dashBullet.ReplaceAllString(text, "• ")
	text = doubleStar.ReplaceAllString(text, "*$1*")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return truncate(strings.TrimSpace(text), MaxLength)
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)[:limit-1]
	cut := string(runes)
	if i := strings.LastIndex(cut, "\n"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n") + "…"
}

func funcsFor(lang string) template.FuncMap {
	vocab := vocabulary[lang]
	lookup := func(m map[string]string, key string) string {
		if v, ok := m[key]; ok {
			return v
		}
		return strings.ReplaceAll(strings.ToLower(key), "_", " ")
	}
	return template.FuncMap{
		"money": FormatMoney,
		"method": func(id string) string {
			return lookup(vocab.methods, id)
		},
		"status": func(s string) string {
			return lookup(vocab.statuses, strings.ToLower(s))
		},
		"language": func(code string) string {
			return lookup(vocab.languages, code)
		},
		"choices": func(intents []string) string {
			var labels []string
			for _, intent := range intents {
				if label, ok := vocab.intents[intent]; ok {
					labels = append(labels, label)
				}
			}
			switch len(labels) {
			case 0:
				return ""
			case 1:
				return labels[0]
			default:
				return strings.Join(labels[:len(labels)-1], ", ") + " " + vocab.or + " " + labels[len(labels)-1]
			}
		},
	}
}

// FormatMoney renders an amount exactly as returned by a tool, with
// thousands grouping and cents only when present.
func FormatMoney(currency string, amount float64) string {
	neg := amount < 0
	cents := int64(math.Round(math.Abs(amount) * 100))
	whole, frac := cents/100, cents%100

	digits := fmt.Sprintf("%d", whole)
	var grouped strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	out := grouped.String()
	if frac != 0 {
		out += fmt.Sprintf(".%02d", frac)
	}
	if neg {
		out = "-" + out
	}
	if currency != "" {
		out = currency + " " + out
	}
	return out
}
