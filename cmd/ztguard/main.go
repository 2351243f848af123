// ztguard is the command-line front end for the session guard: it manages the stored
// token pair, runs validations, inspects the security event log and sends authorized requests.
package main

import "zero-trust-session-guard/cmd/ztguard/cmd"

func main() {
	cmd.Execute()
}
