// Package config loads, defaults, and validates renderwatch configuration,
// including the mutable folder→account mapping that routes each watched
// template folder to its destination publishing account.
package config
