// Package registry holds the immutable per-model configuration and the
// mutable runtime ModelEntry for every configured model.
//
// The Registry is the single owner of the name-to-entry map; the Lifecycle
// Controller is the only component permitted to mutate an entry's state,
// but any caller may take a read-only snapshot via List/Get/Snapshot.
package registry
