// Package notifications sends pipeline event notifications through ntfy.
package notifications
