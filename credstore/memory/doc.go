// Package memory provides an in-process ticketauth.CredentialStore.
package memory
