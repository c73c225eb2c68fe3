// Package template provides reusable notification blueprints with
// {{variable}} placeholder substitution. Missing variables never fail a send:
// the placeholder is left verbatim and a warning is logged.
package template
