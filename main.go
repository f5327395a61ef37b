package main

import (
	"os"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/solanyn/modal-operator/cmd"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "modal-operator",
		Usage: "Redirects GPU workloads to the remote serverless execution backend",
		Commands: []*cli.Command{
			cmd.OperatorCommand,
			cmd.ProxyCommand,
			cmd.LoggerCommand,
			cmd.HealthCheckCommand,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		// log fatal so we exit with the proper exit code, this is important for containerized deployment health checks
		logging.Log.WithError(err).Fatal("runtime error")
	}
}
