// Package work defines the core scheduling vocabulary shared by every
// steward component: roles, the five priority levels, the item state
// machine, and the Item record itself.
package work
