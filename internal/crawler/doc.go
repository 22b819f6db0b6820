// Package crawler defines the domain records, event vocabulary and collaborator
// interfaces shared by the pitchfork crawler subsystems.
package crawler
