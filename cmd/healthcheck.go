package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

// HealthCheckCommand probes one of the operator's own HTTP surfaces —
// the gateway's /health (proxy sidecar, §4.D) or the Prometheus
// /metrics endpoint (§6) — and validates the response shape rather
// than just the status code, so a container probe catches a listener
// that accepts connections but serves the wrong body (e.g. the
// catchall route shadowing /health, or promhttp wired to the wrong
// registry). Used as a container probe command so the same binary
// doubles as its own healthcheck, without a curl/wget dependency in
// the image.
var HealthCheckCommand = &cli.Command{
	Name:  "healthcheck",
	Usage: "Check that a modal-operator sidecar's health or metrics surface is up (for container health checks)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Aliases: []string{"u"},
			Value:   "http://localhost:8080/health",
			Usage:   "URL to probe",
			EnvVars: []string{"MODAL_OPERATOR_HEALTH_URL"},
		},
		&cli.StringFlag{
			Name:    "surface",
			Aliases: []string{"s"},
			Value:   "health",
			Usage:   "Which surface --url points at: \"health\" (gateway /health JSON) or \"metrics\" (Prometheus /metrics text)",
			EnvVars: []string{"MODAL_OPERATOR_HEALTH_SURFACE"},
		},
		&cli.IntFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Value:   5,
			Usage:   "Timeout in seconds",
			EnvVars: []string{"MODAL_OPERATOR_HEALTH_TIMEOUT"},
		},
	},
	Action: func(ctx *cli.Context) error {
		url := ctx.String("url")
		surface := ctx.String("surface")
		timeout := time.Duration(ctx.Int("timeout")) * time.Second

		client := &http.Client{Timeout: timeout}

		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health check failed: %s returned status %d", url, resp.StatusCode)
		}

		switch surface {
		case "health":
			return checkGatewayHealth(resp)
		case "metrics":
			return checkMetricsSurface(resp)
		default:
			return fmt.Errorf("health check failed: unknown surface %q, want \"health\" or \"metrics\"", surface)
		}
	},
}

// checkGatewayHealth decodes the gateway's /health body (see
// internal/gateway's handleHealth) and requires status=="healthy",
// catching the case where something other than the gateway answers on
// the probed port with an unrelated 200.
func checkGatewayHealth(resp *http.Response) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("health check failed: could not decode gateway /health response: %w", err)
	}
	if body.Status != "healthy" {
		return fmt.Errorf("health check failed: gateway reported status %q", body.Status)
	}
	return nil
}

// checkMetricsSurface requires a Prometheus text-exposition response
// that actually carries this operator's own metric families, not just
// any 200 from promhttp's default handler pointed at an empty registry.
func checkMetricsSurface(resp *http.Response) error {
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/plain") {
		return fmt.Errorf("health check failed: /metrics content-type %q, want text/plain", contentType)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "modal_operator_") {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("health check failed: reading /metrics body: %w", err)
	}
	return fmt.Errorf("health check failed: /metrics response has no modal_operator_* metric families")
}
