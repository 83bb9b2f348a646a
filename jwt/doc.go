// Package jwt issues and verifies the signed, time-bounded claim sets used
// by the trust core: access, refresh, and mfa_pending tokens. The kind is a
// first-class claim and is enforced on parse so one kind can never be
// replayed as another.
package jwt
