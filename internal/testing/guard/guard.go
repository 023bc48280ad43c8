// Package guard forces CHARTERDESK_TEST_MODE for test binaries that import it,
// so binaries under test never dial Postgres, Redis or SMTP.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CHARTERDESK_TEST_MODE") == "" {
			_ = os.Setenv("CHARTERDESK_TEST_MODE", "1")
		}
		if os.Getenv("GOTENBERG_URL") == "" {
			_ = os.Setenv("GOTENBERG_URL", "http://127.0.0.1:0")
		}
	})
}
