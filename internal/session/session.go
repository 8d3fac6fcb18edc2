// Package session keeps the cluster-wide route table: for every identity with
// a live connection, which server instance holds it. Routes live in Redis and
// expire unless the owning server keeps refreshing them.
package session

// Route records where an identity is connected.
type Route struct {
	Identity     string `redis:"identity"`
	Server       string `redis:"server"`        // which chat server instance
	ConnectionID string `redis:"connection_id"` // the live handle on that server
	ConnectedAt  int64  `redis:"connected_at"`  // unix timestamp
}
