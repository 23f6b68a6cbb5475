// Package harness runs integration scenarios against a file-transfer
// client/server pair.
//
// The harness never looks at the wire protocol. It observes the pair purely
// through filesystem side effects inside a provisioned sandbox: a fixture
// placed next to the server either does or does not show up, byte for byte,
// next to the client.
//
// # Scenario Lifecycle
//
// Every scenario runs through the same state machine:
//
//	SETUP    start the server (grpc-server <ip>:<port>) and wait until it accepts connections
//	RUN      run the scenario body (client invocation and assertions)
//	TEARDOWN stop the server (SIGTERM, then wait for exit)
//
// TEARDOWN is deferred, so it runs on every exit path of RUN. A teardown
// failure is recorded separately from the scenario's own failures so both
// stay visible.
//
// Cancelling the run context lets the current scenario finish its teardown;
// the scenarios after it are recorded as skipped without starting a server.
//
// Scenarios run strictly one after another and share the sandbox and the
// server address. Reuse of the address is safe only because each server is
// fully reaped before the next scenario starts.
//
// # Built-in Scenarios
//
//   - invalid_request: the client asks for a file the server does not own;
//     no file of that name may appear in the client directory.
//   - valid_request: the client asks for a generated fixture; it must arrive
//     byte-identical and is removed afterwards.
//
// # Scenario Files
//
// Additional request scenarios can be declared in YAML:
//
//	scenarios:
//	  - name: one_block
//	    description: "Exactly one 30 MiB block"
//	    kind: valid_request
//	    size: 31457280
//	  - name: unknown_file
//	    kind: invalid_request
//	    file: does-not-exist.bin
//
// # Usage
//
//	sb, err := sandbox.Provision(cfg.BinDir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h := harness.New(cfg, sb, harness.WithOutput(os.Stdout))
//	report := h.Run(ctx, harness.DefaultScenarios())
//	if !report.OK() {
//	    os.Exit(1)
//	}
package harness
