// Package storage contains the content-addressed file domain: users with
// optional settlement identities, deduplicated file records with similarity
// grouping, and the upload associations that usage accounting bills from.
package storage
