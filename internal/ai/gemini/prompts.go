package gemini

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed prompts/*.md
var promptFS embed.FS

func mustPrompt(name string) string {
	data, err := promptFS.ReadFile("prompts/" + name + ".md")
	if err != nil {
		panic(fmt.Sprintf("missing embedded prompt %q: %v", name, err))
	}
	return string(data)
}

var (
	matchTemplate       = mustPrompt("match")
	cvTemplate          = mustPrompt("cv")
	interviewerTemplate = mustPrompt("interviewer")
	reportTemplate      = mustPrompt("report")
	behaviorTemplate    = mustPrompt("behavior")
	footprintTemplate   = mustPrompt("footprint")
)

// render replaces {{KEY}} placeholders. Unknown placeholders are left untouched.
func render(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
