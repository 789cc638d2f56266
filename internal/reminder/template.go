package reminder

import (
	"strconv"
	"strings"

	"github.com/basket/nudge/internal/bus"
)

// DefaultTemplate is used when the configured message template is empty.
const DefaultTemplate = "Continue working on the incomplete todos. {completed}/{total} done, {remaining} remaining."

// RenderTemplate substitutes the named placeholders in tpl from the given
// todo snapshot: {total}, {completed} (done or cancelled), {pending}, and
// {remaining} as an alias for {pending}. Unknown placeholders are left
// untouched, so literal braces pass through unchanged.
func RenderTemplate(tpl string, todos, pending []bus.Todo) string {
	r := strings.NewReplacer(
		"{total}", strconv.Itoa(len(todos)),
		"{completed}", strconv.Itoa(CountDone(todos)),
		"{pending}", strconv.Itoa(len(pending)),
		"{remaining}", strconv.Itoa(len(pending)),
	)
	return r.Replace(tpl)
}
