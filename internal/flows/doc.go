// Package flows implements the authentication workflows behind the Engine.
//
// Each Run* function receives its collaborators through a Deps struct of
// function fields, so flows never import the root package and can be tested
// with plain closures. Metric IDs, audit event names and host sentinel
// errors are passed in through the Metrics, Events and Errors structs.
//
// Flows decide what happens. They do not own storage, token signing or
// transport.
package flows
