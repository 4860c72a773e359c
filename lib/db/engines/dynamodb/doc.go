// Package dynamodb implements db.KVDB on top of an AWS DynamoDB table.
//
// Items are keyed by (Space, Key), so one table can hold several independent
// databases. Writes are conditional on the stored revision and run in a
// transaction together with an increment of the space's update sequence.
// A failed condition is reported as db.CodeConflict, throttling as
// db.CodeUnavailable.
//
// The engine has no native erase, wrap it with db.WithErase (the registry
// does so automatically).
package dynamodb
