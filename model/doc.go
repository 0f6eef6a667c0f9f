// Package model declares the User and Action entities and registers them
// for schema creation.
package model
