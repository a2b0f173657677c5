package widget

import _ "embed"

// Script is the browser embed script served at /widget.js.
//
//go:embed assets/widget.js
var Script []byte
