// Package auth provides user accounts, login tokens and machine access for
// the tool management service.
//
// There are two roles. Operators record logbook entries on the machines an
// admin assigned to them; a new operator has no machines. Admins manage
// machines, tools and users and see every machine.
//
// Passwords are stored as Argon2id PHC strings. Login returns a short-lived
// HS256 JWT that is validated by signature only.
package auth
