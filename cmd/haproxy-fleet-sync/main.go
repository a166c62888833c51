/*
haproxy-fleet-sync keeps an HAProxy load balancer's backend and server
configuration in sync with a dynamic fleet of Azure or AWS compute
instances, polling the configured cloud provider and applying changes
through HAProxy's Dataplane API -- transactionally, without reloads.
*/
package main

import (
	"os"

	"github.com/vsk8s/haproxy-fleet-sync/cmd/haproxy-fleet-sync/cmd"
)

func main() {
	os.Exit(cmd.Run(os.Args[1:]))
}
