// Package supervisor keeps a single worker process alive under a bounded
// restart policy.
//
// The supervisor owns exactly one worker at a time. When the worker exits
// with status 0 the supervisor stops as well; a non-zero exit (or a failure
// to start the process at all) is retried after a fixed delay until the
// restart budget is used up. Termination signals received by the supervisor
// are relayed to the worker and end the run immediately, cancelling any
// pending restart.
//
// The lifecycle is split in two layers:
//   - Machine is a pure state machine fed with Event values. It performs no
//     I/O and can be driven entirely from tests.
//   - Supervisor runs the machine on one goroutine, spawning processes
//     through a Spawner, waiting for their exit, timing restarts and
//     reporting every Transition to registered observers.
//
// Example usage:
//
//	sup := supervisor.New(supervisor.Config{
//	    Name:         "web",
//	    MaxRestarts:  5,
//	    RestartDelay: 2 * time.Second,
//	}, &supervisor.ExecSpawner{
//	    Binary:  "node",
//	    Args:    []string{"server.js"},
//	    PortEnv: "PORT",
//	    Port:    3000,
//	})
//	sup.SetLogger(logger)
//
//	err := sup.Run(ctx)
//	os.Exit(supervisor.ExitCode(err))
package supervisor
