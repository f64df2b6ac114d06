package resources

import (
	_ "embed"
)

// Bootstrap is the text/template prepended to every injected program.
//
//go:embed js/bootstrap.js.tmpl
var Bootstrap string

// Fallback dismisses consent banners and starts playback when a program
// reports no success.
//
//go:embed js/fallback.js
var Fallback string

// Stealth is evaluated on every new document to hide automation signals.
//
//go:embed js/stealth.js
var Stealth string
