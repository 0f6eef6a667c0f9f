// Package types holds the query option and pagination types shared by the
// repository and service layers.
package types
