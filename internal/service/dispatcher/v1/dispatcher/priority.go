package dispatcher

import (
	"strings"

	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
)

// lowPriorityPrefix marks student identifiers, compared against the upper-cased local part.
const lowPriorityPrefix = "4MT"

// ClassifyPriority maps an email to its priority class. An absent email is low priority.
func ClassifyPriority(email string) int {
	if email == "" {
		return modelqueue.PriorityLow
	}
	local := email
	if i := strings.Index(email, "@"); i >= 0 {
		local = email[:i]
	}
	if strings.HasPrefix(strings.ToUpper(local), lowPriorityPrefix) {
		return modelqueue.PriorityLow
	}
	return modelqueue.PriorityHigh
}
