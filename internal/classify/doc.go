// Package classify maps raw tracker items to a (role, priority) routing
// decision using the configured rule table. Rule order is fixed and first
// match wins, so there is no scoring ambiguity; items nothing matches are
// reported Unclassifiable rather than silently defaulted.
package classify
