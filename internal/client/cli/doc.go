// Package cli implements the interactive command-line front end of fieldsync.
//
// The REPL reads one command per line and drives an app.Handle: typed records
// are created, edited and listed through the offline cache, and the sync
// engine is inspected and steered (status, sync, attention, retry, discard,
// resolve). When the local store is unavailable the same record commands go
// straight to the backend.
//
// Commands
//
//	create <type> [id] [json]       create a record; prompts for JSON if omitted
//	update <type> <id> [json]       apply a JSON merge patch
//	delete <type> <id>              delete a record
//	get <type> <id>                 show one record
//	list <type> [all]               list records; "all" includes tombstones
//	status                          sync state, backlog and last error
//	sync                            run a sync cycle now
//	attention                       failed entries and conflicts
//	retry <entry-id>                re-arm a failed entry
//	discard <entry-id>              drop a failed entry
//	resolve <type> <id> <choice>    keep_local or take_remote
//	token [jwt]                     replace the access token
//	help, exit | quit
//
// Types are asset, vessel and scan (plural forms are accepted).
package cli
