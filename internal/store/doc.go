// Package store is the merge-on-write side of the pipeline. Writer turns a
// normalized host record into either a new document or a merged replacement
// of the document already stored under the same hostname. Persistence
// backends live under internal/storage.
package store
