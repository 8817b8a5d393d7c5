package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/simgate/internal/platform/env"
	"github.com/animus-labs/simgate/internal/rules"
	"github.com/animus-labs/simgate/internal/schema"
	"github.com/animus-labs/simgate/internal/spec"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "simctl",
		Short:         "Offline tooling for simulation spec documents and payloads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCheckSpecCmd(), newBuildCmd())
	return root
}

func newCheckSpecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-spec <path>",
		Short: "Parse a spec document and print its shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := spec.LoadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version:     %s\n", ix.Version())
			fmt.Fprintf(out, "groups:      %d\n", len(ix.Groups()))
			fmt.Fprintf(out, "ui fields:   %d\n", ix.FieldCount())
			fmt.Fprintf(out, "calculated:  %s\n", strings.Join(ix.CalculatedKeys(), ", "))
			cycles := ix.CycleTypes()
			fmt.Fprintf(out, "cycle types: %v (city=%d custom=%d)\n", cycles.Codes(), spec.CityCycleCode, cycles.CustomCode())
			for _, opt := range ix.Enum(spec.EnumCycleTypes) {
				scenario, err := rules.Classify(cycles, opt.Code)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  %d %-20s %s\n", opt.Code, opt.Key, scenario)
			}
			fmt.Fprintf(out, "eco threshold code: %d\n", ix.ECOThresholdCode())
			for _, group := range ix.Groups() {
				fields, _ := ix.TemplateGroup(group)
				fmt.Fprintf(out, "  %-20s %d fields, %d ui mappings\n", group, len(fields), len(ix.FieldMappings(group)))
			}
			return nil
		},
	}
}

func newBuildCmd() *cobra.Command {
	var specPath string
	cmd := &cobra.Command{
		Use:   "build <input.json|->",
		Short: "Validate input and print the canonical backend payload",
		Long: "Reads a save-input envelope ({\"inputData\": {...}}) or bare grouped input,\n" +
			"runs request validation and the payload rules, and prints the payload that\n" +
			"would be sent to the validator.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := spec.LoadFile(specPath)
			if err != nil {
				return err
			}
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			payload, scenario, err := buildPayload(ix, raw)
			if err != nil {
				writeBuildError(cmd.OutOrStdout(), err)
				return err
			}
			canonical, err := payload.Canonical()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "scenario: %s\n", scenario)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(canonical))
			return err
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", env.String("SIMULATION_SPEC_PATH", "api/simulation_spec.yaml"), "path to the spec document")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return raw, nil
}

func buildPayload(ix *spec.Index, raw []byte) (rules.Payload, rules.Scenario, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("decode input: %w", err)
	}
	envelope, ok := doc.(map[string]any)
	if !ok {
		return nil, "", errors.New("input must be a JSON object")
	}
	if _, wrapped := envelope["inputData"]; !wrapped {
		envelope = map[string]any{"inputData": envelope}
	}

	requests, err := schema.NewRequestValidator(ix)
	if err != nil {
		return nil, "", err
	}
	if err := requests.Validate(envelope); err != nil {
		return nil, "", err
	}
	builder, err := rules.NewBuilder(ix)
	if err != nil {
		return nil, "", err
	}
	input, _ := envelope["inputData"].(map[string]any)
	return builder.BuildWithScenario(input)
}

func writeBuildError(out io.Writer, err error) {
	var (
		verr *schema.ValidationError
		serr *rules.ScenarioError
	)
	var body any
	switch {
	case errors.As(err, &verr):
		body = map[string]any{"error": "invalid_input", "issues": verr.Issues}
	case errors.As(err, &serr):
		body = map[string]any{
			"error":   serr.Kind.Error(),
			"rule":    serr.Rule,
			"field":   serr.Group + "." + serr.Field,
			"message": serr.Message,
		}
	default:
		return
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
}
