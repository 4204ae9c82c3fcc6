// Package auth guards content mutations. It checks login attempts against the
// single configured admin principal and issues and verifies the signed bearer
// tokens that protected endpoints require.
package auth
