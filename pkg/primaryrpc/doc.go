// Package primaryrpc wires pkg/txn, pkg/datasource, pkg/store,
// pkg/walog, and pkg/broker into the gRPC service only a primary
// serves: id allocation, lock acquisition, transaction commit,
// update pulling, full-store copy, and epoch lookup.
package primaryrpc
