/*
Package runner drives the operation surface over a line-oriented stream.

Each input line is one operation call; each call produces one output line (or block).
Two handlers ship with the package:

  - JSONHandler: JSON-Lines requests {"id", "op", "args"} and responses {"id", "result", "error"},
    for hosts that script agentrun through a pipe.
  - TextHandler: commands such as `node_enter node_id=draft reason="first pass"` with YAML
    output, for people poking at a session from a terminal.

# Usage

	r := runner.New(rt.Service,
		runner.WithInput(os.Stdin),
		runner.WithHandler(runner.NewJSONHandler(os.Stdout)),
		runner.WithInterceptor(runner.ReadOnly()),
	)
	if err := r.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package runner
