// Package devledger is a local stand-in for the message ledger contract.
//
// It exposes the contract's reads and writes over HTTP, pushes NewMessage
// and MessageLiked events over a websocket, and authenticates writes with
// the same personal-message signatures a wallet produces. Writes are queued
// as transactions and executed in submission order, either immediately or
// once per block interval.
//
// Two Store implementations are provided:
//   - MemoryStore: in-process, for tests and throwaway sessions.
//   - PostgresStore: durable across restarts.
package devledger
