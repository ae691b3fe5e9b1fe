package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"appraisal/server/internal/models"
	"appraisal/server/internal/valuation"

	"github.com/spf13/cobra"
)

// valuationInput is the file format of the valuate command.
type valuationInput struct {
	SubjectProperty      models.Property   `json:"subject_property"`
	ComparableProperties []models.Property `json:"comparable_properties"`
}

func newValuateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "valuate",
		Short: "Value a property offline",
		Long:  "Read a subject and its comparables from a JSON file (or - for stdin), compute the valuation with the configured rates and print the result. Nothing is stored.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValuate(cmd, file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "input JSON file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runValuate(cmd *cobra.Command, file string) error {
	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	var r io.Reader = cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var in valuationInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return fmt.Errorf("decoding input: %w", err)
	}
	valuation.Normalize(&in.SubjectProperty)
	for i := range in.ComparableProperties {
		valuation.Normalize(&in.ComparableProperties[i])
	}

	engine := valuation.NewEngine(valuation.NewCalculator(rates(cfg)), nil, logger)
	result, err := engine.Evaluate(in.SubjectProperty, in.ComparableProperties)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
