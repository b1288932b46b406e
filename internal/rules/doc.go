// Package rules compiles declarative rule documents into validated,
// canonical in-memory rules.
//
// A rule document is TOML authored by the editing UI (or by hand). Compiling
// validates the document against the closed registries of condition, action,
// and guardrail types, resolves the quiet period and active hours, and
// produces a canonical JSON form plus a SHA-256 content hash. Compilation is
// pure: identical input yields a byte-identical canonical form and hash.
package rules
