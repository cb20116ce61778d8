package main

import (
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"mission": execute,
	}))
}

func TestScript(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata/script",
		Setup: func(env *testscript.Env) error {
			// Keep the developer's environment out of the scripts.
			for _, k := range []string{"MISSION_WORKSPACE", "MISSION_GATEWAY_URL", "MISSION_SECRET", "MISSION_ID", "MISSION_AGENT_COMMAND", "LOG_LEVEL", "LOG_FORMAT", "MISSION_LOG_REDACT"} {
				env.Setenv(k, "")
			}
			return nil
		},
	})
}
