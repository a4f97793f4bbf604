// Package unionfs implements a github.com/hanwen/go-fuse/v2/fs node
// filesystem that presents the union of two backing directories, routing
// each path to one of them by exact component-prefix match (see
// internal/routing) and impersonating the caller's uid/gid (see
// internal/identity) for every request that resolves a path.
package unionfs
