// Package main implements parkctl, the operator CLI for the parking engine.
//
// Usage:
//
//	parkctl plaza 1 5                      reconcile and show plaza 5 of lot 1
//	parkctl quote 42                       running fee of occupancy 42
//	parkctl sweep reconcile_plazas --lot 1 --lot 2
//	parkctl sweep expire_subscriptions --lot 1 --at 2026-03-10T03:00:00Z
//	parkctl hash-token                     bcrypt hash for OPS_TOKEN_HASH (token on stdin)
//	parkctl demo                           scripted lifecycle against an in-memory lot
//
// Commands that touch data read the same environment as the API server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(dbEngine).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
