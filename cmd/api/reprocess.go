package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartqrhealth/backend/internal/application/services"
)

func newReprocessCommand() *cobra.Command {
	var (
		patientID string
		due       bool
	)

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Run AI summary jobs from the command line",
		Long: `Run the AI summary job for one patient (--patient) or run a single
retry scan over failed patients whose retry time has passed (--due).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (patientID == "" && !due) || (patientID != "" && due) {
				return errors.New("exactly one of --patient or --due is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ctx := services.WithTrigger(cmd.Context(), services.TriggerCLI)

			var result interface{}
			if due {
				scan, err := a.worker.RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("retry scan failed: %w", err)
				}
				result = scan
			} else {
				outcome := a.processor.ProcessPatientJob(ctx, patientID)
				if outcome.Skipped {
					return fmt.Errorf("patient %s not found", patientID)
				}
				result = outcome
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&patientID, "patient", "", "patient ID to process")
	cmd.Flags().BoolVar(&due, "due", false, "process every failed patient that is due for retry")

	return cmd
}
