// Package manager is the session and engine controller. It owns the loaded
// engine, the message list of the active conversation, the selected model
// and the user's custom models, and mediates between the loader (engine
// materialization) and the conversation store (persistence).
//
// Files by concern:
//
//   - manager.go: Manager type, constructor, snapshots and subscriptions.
//   - config.go: Config and defaults.
//   - types.go: State and Snapshot.
//   - errors.go: error types and predicates used by the HTTP layer.
//   - ensure.go: Init, engine loading, model switching, cancel, cache wipe.
//   - infer.go: SendMessage.
//   - session.go: save/open/new/delete/rename and history queries.
//   - models.go: custom models and the access token.
//   - transfer.go: export and import of the full history.
//
// All state changes are announced to subscribers; a subscriber only ever
// sees the latest snapshot.
package manager
