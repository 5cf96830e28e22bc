// Package access holds the route authorization table: which paths are public
// and which roles each protected prefix requires. It has no HTTP or token
// dependencies so the policy can be tested on its own.
package access
