// Package util provides small generic data structures shared by the
// runtime: sets and a hierarchical path index
package util
