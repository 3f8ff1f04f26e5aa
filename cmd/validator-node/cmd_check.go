package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

func newCheckCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check model, registry and gateway connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if !runChecks(ctx, a, stdout) {
				fmt.Fprintln(stderr, "validator-node: one or more checks failed")
				return errExit
			}
			return nil
		},
	}
}

func runChecks(ctx context.Context, a *app, out io.Writer) bool {
	ok := true
	report := func(name string, err error) {
		if err != nil {
			ok = false
			fmt.Fprintf(out, "FAIL  %-10s %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "ok    %s\n", name)
	}

	report("config", a.cfg.Validate())

	model, err := a.model()
	if err == nil {
		var names []string
		names, err = model.ListModels(ctx)
		if err == nil && !slices.Contains(names, model.Model()) {
			err = fmt.Errorf("model %q not available (have %v)", model.Model(), names)
		}
	}
	report("model", err)

	if id, err := a.identity(); err != nil {
		report("identity", err)
	} else {
		_, err = a.registry(id).CheckCompatibility(ctx, a.cfg.Registry.ContractConstraint)
		report("registry", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	for _, gw := range a.cfg.Storage.Gateways {
		report("gateway", probe(ctx, client, gw))
	}
	return ok
}

// probe treats any HTTP response as reachable.
func probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}
	resp.Body.Close()
	return nil
}
