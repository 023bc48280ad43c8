package main

import (
	"testing"

	"github.com/charterdesk/charterdesk/internal/app"
	_ "github.com/charterdesk/charterdesk/internal/testing/guard"
)

func TestMainReturnsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	if !app.InTestMode() {
		t.Fatal("guard did not enable test mode")
	}
	main()
}
