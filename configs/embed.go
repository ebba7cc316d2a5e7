// Package configs provides embedded configuration data for vetrail.
//
// Files are embedded at build time with //go:embed so they are available
// in every distribution, source builds and binary releases alike.
//
// Embedded files:
//   - anchors.yaml: the built-in anchor registry compiled by
//     internal/anchor at startup. A user registry (anchors.path in the
//     config) is merged on top of it, never instead of it.
//   - config.example.yaml: the template written by `vetrail init`.
package configs

import _ "embed"

// BuiltinAnchors is the built-in anchor registry in YAML form.
//
//go:embed anchors.yaml
var BuiltinAnchors []byte

// ConfigTemplate is the example configuration written by `vetrail init`.
//
//go:embed config.example.yaml
var ConfigTemplate string
